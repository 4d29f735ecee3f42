package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	legoaws "github.com/gurre/lego/aws"
	"github.com/gurre/lego/db"
	"github.com/gurre/lego/dynamo"
	"github.com/gurre/lego/files"
	"github.com/gurre/lego/prompt"
	"github.com/gurre/lego/secrets"
	"github.com/integrii/flaggy"
	"github.com/samber/lo"
)

func secretCommands() (*flaggy.Subcommand, []command) {
	secret := flaggy.NewSubcommand("secret")
	secret.Description = "Read Secrets Manager secrets"

	var name string
	var asMap bool
	get := flaggy.NewSubcommand("get")
	get.Description = "Print a secret's value"
	get.AddPositionalValue(&name, "name", 1, true, "Secret name or ARN")
	get.Bool(&asMap, "m", "map", "Decode the secret into key/value pairs and print them as JSON")
	secret.AttachSubcommand(get, 1)

	return secret, []command{
		{sc: get, run: func(ctx context.Context, a *app) error {
			clients, err := a.aws(ctx)
			if err != nil {
				return err
			}
			c := secrets.NewClient(clients.SecretsManager)
			if !asMap {
				v, err := c.Get(ctx, name)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, v)
				return nil
			}
			m, err := c.GetMap(ctx, name)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, string(data))
			return nil
		}},
	}
}

// ddbFlags select a partition and the sort key values to work on.
type ddbFlags struct {
	table    string
	key      dynamo.Key
	values   []string
	file     string
	header   bool
	yes      bool
	record   bool
	logTable string
}

func (f *ddbFlags) add(sc *flaggy.Subcommand, valueDesc string) {
	sc.AddPositionalValue(&f.table, "table", 1, true, "DynamoDB table name")
	sc.String(&f.key.PartitionName, "", "pk", "Partition key attribute name")
	sc.String(&f.key.PartitionValue, "", "pk-value", "Partition key value")
	sc.String(&f.key.SortName, "", "sk", "Sort key attribute name")
	sc.StringSlice(&f.values, "v", "value", valueDesc)
	sc.String(&f.file, "f", "file", "CSV file whose cells are added to the values")
	sc.Bool(&f.header, "", "header", "Skip the first row of the CSV file")
}

// sortValues merges --value flags with the cells of --file.
func (f *ddbFlags) sortValues() ([]string, error) {
	values := append([]string(nil), f.values...)
	if f.file != "" {
		cells, err := files.ReadCSV(files.OS(), f.file, f.header)
		if err != nil {
			return nil, err
		}
		values = append(values, cells...)
	}
	values = lo.Filter(values, func(v string, _ int) bool { return strings.TrimSpace(v) != "" })
	if len(values) == 0 {
		return nil, errors.New("no sort key values given, use --value or --file")
	}
	return values, nil
}

func ddbCommands() (*flaggy.Subcommand, []command) {
	ddb := flaggy.NewSubcommand("ddb")
	ddb.Description = "Find and delete DynamoDB items by sort key"

	var f ddbFlags
	f.logTable = dynamo.DefaultLogTable

	find := flaggy.NewSubcommand("find")
	find.Description = "Print the sort keys in a partition that begin with the given prefixes"
	f.add(find, "Sort key prefix to search for")
	ddb.AttachSubcommand(find, 1)

	del := flaggy.NewSubcommand("delete")
	del.Description = "Delete items in a partition by sort key"
	f.add(del, "Sort key value to delete")
	del.Bool(&f.yes, "y", "yes", "Do not ask for confirmation")
	del.Bool(&f.record, "", "record", "Record the execution in the log table")
	del.String(&f.logTable, "", "log-table", "Table receiving execution records")
	ddb.AttachSubcommand(del, 1)

	return ddb, []command{
		{sc: find, run: func(ctx context.Context, a *app) error {
			prefixes, err := f.sortValues()
			if err != nil {
				return err
			}
			clients, err := a.aws(ctx)
			if err != nil {
				return err
			}
			c := dynamo.NewClient(clients.DynamoDB, dynamo.WithLogger(a.log))
			keys, err := c.FindSortKeys(ctx, f.table, f.key, prefixes)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(a.out, k)
			}
			return nil
		}},
		{sc: del, run: func(ctx context.Context, a *app) error {
			values, err := f.sortValues()
			if err != nil {
				return err
			}
			if !f.yes {
				ok, err := prompt.NewTerminal().YesNo(fmt.Sprintf("Delete %d item(s) from %s in %s?", len(values), f.key.PartitionValue, f.table))
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("aborted")
				}
			}

			clients, err := a.aws(ctx)
			if err != nil {
				return err
			}
			c := dynamo.NewClient(clients.DynamoDB, dynamo.WithLogger(a.log))
			deleteItems := func(ctx context.Context) error {
				n, err := c.DeleteItems(ctx, f.table, f.key, values)
				fmt.Fprintf(a.out, "Deleted %d item(s)\n", n)
				return err
			}
			if !f.record {
				return deleteItems(ctx)
			}

			r := dynamo.NewRecorder(clients.DynamoDB, f.logTable, a.log)
			r.Check = func(ctx context.Context) error {
				_, err := legoaws.CheckSession(ctx, clients.STS, nil)
				return err
			}
			return r.Record(ctx, "ddb_delete", map[string]any{
				"environment": a.settings.Environment(),
				"value":       f.table,
				"items":       len(values),
			}, deleteItems)
		}},
	}
}

func dbCommands() (*flaggy.Subcommand, []command) {
	group := flaggy.NewSubcommand("db")
	group.Description = "Query PostgreSQL databases registered with credentials in Secrets Manager"

	var name, query string
	batchSize := db.DefaultBatchSize
	q := flaggy.NewSubcommand("query")
	q.Description = "Run a query and print the rows tab separated"
	q.AddPositionalValue(&name, "database", 1, true, fmt.Sprintf("Database lookup name, one of %v", db.DefaultRegistry().Names()))
	q.AddPositionalValue(&query, "sql", 2, true, "SQL to run")
	q.Int(&batchSize, "b", "batch", "Rows fetched per batch")
	group.AttachSubcommand(q, 1)

	return group, []command{
		{sc: q, run: func(ctx context.Context, a *app) error {
			clients, err := a.aws(ctx)
			if err != nil {
				return err
			}
			conn, err := db.Open(ctx, secrets.NewClient(clients.SecretsManager), db.DefaultRegistry(), name)
			if err != nil {
				return err
			}
			defer conn.Close()

			rows, err := conn.QueryContext(ctx, query)
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			return db.Batches(rows, batchSize, func(batch [][]any) error {
				for _, row := range batch {
					cells := lo.Map(row, func(v any, _ int) string { return formatCell(v) })
					fmt.Fprintln(a.out, strings.Join(cells, "\t"))
				}
				return nil
			})
		}},
	}
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
