package utils

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/icinga/icingadb/pkg/driver"
	"github.com/icinga/icingadb/pkg/icingadb"
	"github.com/icinga/icingadb/pkg/types"
	"github.com/icinga/icingadb/pkg/utils"
	"github.com/jmoiron/sqlx"
	"strings"
)

// SQLite is the driver name of github.com/mattn/go-sqlite3.
const SQLite = "sqlite3"

// BuildInsertStmtWithout builds an insert stmt without the provided column, e.g. an auto incremented id.
func BuildInsertStmtWithout(db *icingadb.DB, into interface{}, withoutColumn string) string {
	columns := db.BuildColumns(into)
	for i, column := range columns {
		if column == withoutColumn {
			columns = append(columns[:i], columns[i+1:]...)
			break
		}
	}

	return fmt.Sprintf(
		`INSERT INTO "%s" ("%s") VALUES (%s)`,
		utils.TableName(into), strings.Join(columns, `", "`),
		fmt.Sprintf(":%s", strings.Join(columns, ", :")),
	)
}

// InsertAndFetchId executes the given query and fetches the last inserted ID.
func InsertAndFetchId(ctx context.Context, tx *sqlx.Tx, stmt string, args any) (int64, error) {
	var lastInsertId int64
	if tx.DriverName() == driver.PostgreSQL {
		preparedStmt, err := tx.PrepareNamedContext(ctx, stmt+" RETURNING id")
		if err != nil {
			return 0, err
		}
		defer func() { _ = preparedStmt.Close() }()

		err = preparedStmt.GetContext(ctx, &lastInsertId, args)
		if err != nil {
			return 0, fmt.Errorf("failed to insert entry for type %T: %s", args, err)
		}
	} else {
		result, err := tx.NamedExecContext(ctx, stmt, args)
		if err != nil {
			return 0, fmt.Errorf("failed to insert entry for type %T: %s", args, err)
		}

		lastInsertId, err = result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to fetch last insert id for type %T: %s", args, err)
		}
	}

	return lastInsertId, nil
}

// BuildInsertIgnoreStmt builds an insert stmt that silently skips rows conflicting with the primary key.
//
// MySQL and PostgreSQL are handled by icingadb.DB.BuildInsertIgnoreStmt, which expects the primary key constraint
// to be named "pk_<table>" on PostgreSQL.
func BuildInsertIgnoreStmt(db *icingadb.DB, into interface{}) string {
	if db.DriverName() != SQLite {
		stmt, _ := db.BuildInsertIgnoreStmt(into)
		return stmt
	}

	columns := db.BuildColumns(into)

	return fmt.Sprintf(
		`INSERT OR IGNORE INTO "%s" ("%s") VALUES (%s)`,
		utils.TableName(into), strings.Join(columns, `", "`),
		fmt.Sprintf(":%s", strings.Join(columns, ", :")),
	)
}

// BuildUpdateStmt builds an update stmt setting all columns of subject but keyColumn for the row matching keyColumn.
func BuildUpdateStmt(db *icingadb.DB, subject interface{}, keyColumn string) string {
	var set []string
	for _, column := range db.BuildColumns(subject) {
		if column != keyColumn {
			set = append(set, fmt.Sprintf(`"%s" = :%s`, column, column))
		}
	}

	return fmt.Sprintf(
		`UPDATE "%s" SET %s WHERE "%s" = :%s`,
		utils.TableName(subject), strings.Join(set, ", "), keyColumn, keyColumn,
	)
}

// ToDBString transforms the given string to types.String.
func ToDBString(value string) types.String {
	str := types.String{NullString: sql.NullString{String: value}}
	if value != "" {
		str.Valid = true
	}

	return str
}

// ToDBInt transforms the given value to types.Int.
func ToDBInt(value int64) types.Int {
	val := types.Int{NullInt64: sql.NullInt64{Int64: value}}
	if value != 0 {
		val.Valid = true
	}

	return val
}

// ToDBIntAlways transforms the given value to types.Int, which is never NULL, not even for zero.
func ToDBIntAlways(value int64) types.Int {
	return types.Int{NullInt64: sql.NullInt64{Int64: value, Valid: true}}
}
