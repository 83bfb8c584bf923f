package gateway

import (
	"context"
	"time"
)

const closeTimeout = 5 * time.Second

// Execute sends statement to the engine as written, in one simple query
// message, reads every row, and closes c. Nothing is parsed or rewritten on
// the client and no parameters are bound. When the text holds several
// statements the last one supplies the rows and the command tag. Errors from
// the engine are returned inside the Result.
func Execute(ctx context.Context, c *Conn, statement string) Result {
	defer c.Close() //nolint:errcheck // Result already captured

	mrr := c.pg.PgConn().Exec(ctx, statement)
	result := Result{Rows: []Row{}}

	var execErr error
	for mrr.NextResult() {
		rr := mrr.ResultReader()
		fields := rr.FieldDescriptions()
		rows := []Row{}

		for rr.NextRow() {
			raw := rr.Values()
			row := make(Row, 0, len(fields))
			for i, fd := range fields {
				v := Value{Null: raw[i] == nil}
				if !v.Null {
					v.Text = string(raw[i])
				}
				row = row.Set(fd.Name, v)
			}
			rows = append(rows, row)
		}

		tag, err := rr.Close()
		if err != nil {
			execErr = err
			break
		}
		result = Result{Rows: rows, Command: tag.String()}
	}

	if err := mrr.Close(); err != nil && execErr == nil {
		execErr = err
	}
	if execErr != nil {
		return Failure(execErr)
	}
	return result
}

// Run connects to db on t and executes statement. A connection failure is
// reported as a failed Result, like any statement error.
func Run(ctx context.Context, t Target, db, statement string) Result {
	c, err := Connect(ctx, t, db)
	if err != nil {
		return Failure(err)
	}
	return Execute(ctx, c, statement)
}
