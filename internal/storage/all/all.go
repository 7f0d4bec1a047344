// Package all links every storage backend and the SQL Server driver.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "vocabetl/internal/storage/memory"
	_ "vocabetl/internal/storage/mssql"
	_ "vocabetl/internal/storage/postgres"
	_ "vocabetl/internal/storage/sqlite"
)
