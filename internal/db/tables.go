package db

import "os"

func OrdersTableName() string {
	return os.Getenv("ORDERS_TABLE")
}

func SyncTableName() string {
	return os.Getenv("SYNC_TABLE")
}
