package etl

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

type RepairResp struct {
	Ok        bool   `json:"ok"`
	QueryID   string `json:"query_id,omitempty"`
	State     string `json:"state,omitempty"`
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Workgroup string `json:"workgroup,omitempty"`
	Output    string `json:"output,omitempty"`
}

// RepairPartitions runs MSCK REPAIR TABLE against the daily metrics table so
// newly written dt= partitions become queryable. Scheduled after the ETL run.
//
// Env:
// - ATHENA_DATABASE (required)
// - ATHENA_TABLE (required)
// - ATHENA_OUTPUT (required, s3://bucket/prefix/)
// - ATHENA_WORKGROUP (default "primary")
func RepairPartitions(ctx context.Context, ath *athena.Client) (RepairResp, error) {
	db := strings.TrimSpace(os.Getenv("ATHENA_DATABASE"))
	table := strings.TrimSpace(os.Getenv("ATHENA_TABLE"))
	workgroup := strings.TrimSpace(os.Getenv("ATHENA_WORKGROUP"))
	output := strings.TrimSpace(os.Getenv("ATHENA_OUTPUT")) // s3://bucket/prefix/

	if db == "" || table == "" || output == "" {
		return RepairResp{Ok: false}, fmt.Errorf("missing env: ATHENA_DATABASE, ATHENA_TABLE, ATHENA_OUTPUT are required")
	}
	if !strings.HasPrefix(output, "s3://") {
		return RepairResp{Ok: false}, fmt.Errorf("ATHENA_OUTPUT must start with s3://")
	}
	if workgroup == "" {
		workgroup = "primary"
	}

	q := fmt.Sprintf("MSCK REPAIR TABLE %s;", table)

	startOut, err := ath.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(q),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(db),
		},
		WorkGroup: aws.String(workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(output),
		},
	})
	if err != nil {
		return RepairResp{Ok: false}, fmt.Errorf("StartQueryExecution: %w", err)
	}

	qid := aws.ToString(startOut.QueryExecutionId)
	fmt.Printf("repair started: qid=%s db=%s table=%s wg=%s out=%s\n", qid, db, table, workgroup, output)

	// One dt= partition lands per daily ETL run, so the repair scans at most a
	// year or two of partitions and finishes well inside a minute.
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		st, err := ath.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return RepairResp{Ok: false, QueryID: qid}, fmt.Errorf("GetQueryExecution: %w", err)
		}
		state := string(st.QueryExecution.Status.State)
		if state == "SUCCEEDED" {
			fmt.Printf("repair succeeded: qid=%s\n", qid)
			return RepairResp{
				Ok:        true,
				QueryID:   qid,
				State:     state,
				Database:  db,
				Table:     table,
				Workgroup: workgroup,
				Output:    output,
			}, nil
		}
		if state == "FAILED" || state == "CANCELLED" {
			reason := ""
			if st.QueryExecution.Status.StateChangeReason != nil {
				reason = *st.QueryExecution.Status.StateChangeReason
			}
			return RepairResp{Ok: false, QueryID: qid, State: state}, fmt.Errorf("repair %s: %s", state, reason)
		}
		time.Sleep(2 * time.Second)
	}

	return RepairResp{Ok: false, QueryID: qid, State: "TIMEOUT"}, fmt.Errorf("repair timed out waiting for qid=%s", qid)
}
