package warehouse

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQueryConfig addresses tables as project.dataset.table.
type BigQueryConfig struct {
	Project         string
	Dataset         string
	CredentialsFile string
	Location        string
}

// BigQuerySource reads tables from BigQuery.
type BigQuerySource struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewBigQuerySource creates a client for the configured project.
func NewBigQuerySource(ctx context.Context, cfg BigQueryConfig) (*BigQuerySource, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("bigquery project is required")
	}
	if cfg.Dataset == "" {
		return nil, fmt.Errorf("bigquery dataset is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	return &BigQuerySource{client: client, project: cfg.Project, dataset: cfg.Dataset}, nil
}

// Fetch runs SELECT * against the table and returns every row.
func (s *BigQuerySource) Fetch(ctx context.Context, table string) (*Table, error) {
	q := s.client.Query(fmt.Sprintf("SELECT * FROM %s", Ref(s.project, s.dataset, table)))
	it, err := q.Read(ctx)
	if err != nil {
		return nil, loadFailure(table, err)
	}

	out := &Table{Name: table}
	for {
		var vals []bigquery.Value
		err := it.Next(&vals)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, loadFailure(table, err)
		}
		if out.Columns == nil {
			out.Columns = schemaColumns(it.Schema)
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			row[i] = v
		}
		out.Rows = append(out.Rows, row)
	}
	if out.Columns == nil {
		out.Columns = schemaColumns(it.Schema)
	}

	return out, nil
}

// Close releases the client.
func (s *BigQuerySource) Close() error {
	return s.client.Close()
}

func schemaColumns(schema bigquery.Schema) []string {
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = f.Name
	}
	return cols
}
