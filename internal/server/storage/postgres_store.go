package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/session"
)

// 文档列使用 json 而不是 jsonb：jsonb 会重排对象键，玩家顺序会丢失
const schemaSQL = `
CREATE TABLE IF NOT EXISTS games (
	id           TEXT PRIMARY KEY,
	doc          JSON        NOT NULL,
	version      BIGINT      NOT NULL,
	is_public    BOOLEAN     NOT NULL DEFAULT FALSE,
	date_created TIMESTAMPTZ NOT NULL,
	date_updated TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS games_public_updated_idx ON games (is_public, date_updated DESC);
`

// pgxConn PostgresStore 需要的最小连接接口，*pgxpool.Pool 满足
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore 基于 PostgreSQL 的游戏文档仓库
type PostgresStore struct {
	db pgxConn
}

// NewPostgresStore 连接数据库并返回存储
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres 连接失败: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres 连接失败: %w", err)
	}
	return &PostgresStore{db: pool}, pool, nil
}

// EnsureSchema 建表
func (ps *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := ps.db.Exec(ctx, schemaSQL)
	return err
}

// Get 读取游戏文档，不存在时返回 nil, nil
func (ps *PostgresStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var raw []byte
	err := ps.db.QueryRow(ctx, `SELECT doc FROM games WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return session.Decode(raw)
}

// Create 写入新文档，id 已被占用时返回 false
func (ps *PostgresStore) Create(ctx context.Context, doc *session.Session) (bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("序列化游戏文档失败: %w", err)
	}

	tag, err := ps.db.Exec(ctx, `
		INSERT INTO games (id, doc, version, is_public, date_created, date_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		doc.ID, data, doc.Version, doc.Settings.IsPublic, doc.DateCreated, doc.DateUpdated)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Replace 比较并交换：仅当库中版本等于 doc.Version 时写入，成功后 doc.Version 加一
func (ps *PostgresStore) Replace(ctx context.Context, doc *session.Session) error {
	expected := doc.Version
	doc.Version = expected + 1

	data, err := json.Marshal(doc)
	if err != nil {
		doc.Version = expected
		return fmt.Errorf("序列化游戏文档失败: %w", err)
	}

	tag, err := ps.db.Exec(ctx, `
		UPDATE games SET doc = $2, version = $3, is_public = $4, date_updated = $5
		WHERE id = $1 AND version = $6`,
		doc.ID, data, doc.Version, doc.Settings.IsPublic, doc.DateUpdated, expected)
	if err != nil {
		doc.Version = expected
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	doc.Version = expected
	var exists bool
	if err := ps.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperrors.ErrGameNotFound
	}
	return apperrors.ErrVersionConflict
}

// ListPublic 列出 since 之后更新过的公开游戏，按更新时间倒序
func (ps *PostgresStore) ListPublic(ctx context.Context, since time.Time, offset, limit int) ([]*session.Session, error) {
	rows, err := ps.db.Query(ctx, `
		SELECT doc FROM games
		WHERE is_public AND date_updated >= $1
		ORDER BY date_updated DESC
		OFFSET $2 LIMIT $3`, since, offset, limit)
	if err != nil {
		return nil, err
	}

	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}

	games := make([]*session.Session, 0, len(raws))
	for _, raw := range raws {
		doc, err := session.Decode(raw)
		if err != nil {
			return nil, err
		}
		games = append(games, doc)
	}
	return games, nil
}
