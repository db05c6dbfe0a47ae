package storage

import "github.com/jackc/pgx/v5/pgconn"

func isAffected(tag pgconn.CommandTag) bool {
	return tag.RowsAffected() != 0
}

func getAffected(tag pgconn.CommandTag) int64 {
	return tag.RowsAffected()
}
