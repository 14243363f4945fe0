package db

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/kidandcat/teamsync/internal/config"
)

// Surreal keeps every collection as a SurrealDB table. Records hold the
// same encoded body the SQLite backend stores, so both backends round-trip
// identically.
type Surreal struct {
	db  *surrealdb.DB
	seq atomic.Int64
}

type surrealRow struct {
	ID   *models.RecordID `json:"id,omitempty"`
	Seq  int64            `json:"seq"`
	Body []byte           `json:"body"`
}

func OpenSurreal(ctx context.Context, cfg config.StorageConfig) (*Surreal, error) {
	conn, err := surrealdb.FromEndpointURLString(ctx, cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("connect surrealdb %s: %w", cfg.SurrealURL, err)
	}
	if cfg.SurrealUser != "" {
		if _, err := conn.SignIn(ctx, map[string]any{
			"user": cfg.SurrealUser,
			"pass": cfg.SurrealPass,
		}); err != nil {
			conn.Close(ctx)
			return nil, fmt.Errorf("surrealdb signin: %w", err)
		}
	}
	if err := conn.Use(ctx, cfg.SurrealNamespace, cfg.SurrealDatabase); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("surrealdb use %s/%s: %w", cfg.SurrealNamespace, cfg.SurrealDatabase, err)
	}

	s := &Surreal{db: conn}
	s.seq.Store(time.Now().UnixNano())
	return s, nil
}

func (s *Surreal) Gateway(opts Options) *Gateway {
	return assemble(recordCollections(s), opts, s.Close)
}

func (s *Surreal) Close() error {
	return s.db.Close(context.Background())
}

func (s *Surreal) list(ctx context.Context, coll string) ([][]byte, error) {
	res, err := surrealdb.Query[[]surrealRow](ctx, s.db,
		"SELECT * FROM type::table($tb) ORDER BY seq ASC",
		map[string]any{"tb": coll})
	if err != nil {
		return nil, err
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	rows := (*res)[0].Result
	bodies := make([][]byte, 0, len(rows))
	for _, r := range rows {
		bodies = append(bodies, r.Body)
	}
	return bodies, nil
}

func (s *Surreal) insert(ctx context.Context, coll, id string, body []byte) error {
	rid := models.NewRecordID(coll, id)
	_, err := surrealdb.Create[surrealRow](ctx, s.db, rid, surrealRow{
		Seq:  s.seq.Add(1),
		Body: body,
	})
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return ErrExists
	}
	return err
}

func (s *Surreal) replace(ctx context.Context, coll, id string, body []byte) error {
	res, err := surrealdb.Query[[]surrealRow](ctx, s.db,
		"UPDATE $rid SET body = $body WHERE id != NONE",
		map[string]any{"rid": models.NewRecordID(coll, id), "body": body})
	if err != nil {
		return err
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Surreal) remove(ctx context.Context, coll, id string) error {
	_, err := surrealdb.Delete[surrealRow](ctx, s.db, models.NewRecordID(coll, id))
	if err != nil && isSurrealEmpty(err) {
		return nil
	}
	return err
}

// isSurrealEmpty matches the decode errors the driver reports when a
// single-record call touched nothing.
func isSurrealEmpty(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Expected a single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array into Go value")
}
