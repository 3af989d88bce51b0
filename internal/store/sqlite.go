package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/lox/elyos/internal/metrics"
	"github.com/lox/elyos/internal/models"
)

var (
	// ErrSchema means the stored wine table lacks a column training needs.
	ErrSchema = errors.New("schema mismatch")
	// ErrWrite means a table replacement failed and was rolled back.
	ErrWrite = errors.New("store write failed")
)

const (
	WineTable    = "vins_enrichis"
	CountryTable = "referentiel_pays"
)

// WineColumns are the chemistry columns of the wine archive, in file order.
var WineColumns = []string{
	"fixed acidity",
	"volatile acidity",
	"citric acid",
	"residual sugar",
	"chlorides",
	"free sulfur dioxide",
	"total sulfur dioxide",
	"density",
	"pH",
	"sulphates",
	"alcohol",
}

// FeatureColumns are the 13 model inputs in training order.
var FeatureColumns = append(append([]string{}, WineColumns...), "temperature_2m_mean", "rain_sum")

const TargetColumn = "quality"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// connPragmas are applied by the driver to every pooled connection.
var connPragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)"}

// dsn adds connPragmas to a database path.
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens (creating if needed) the SQLite file at path in WAL mode.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func wineTableDDL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + WineTable + " (\n    id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range WineColumns {
		b.WriteString(",\n    " + quoteIdent(c) + " REAL")
	}
	b.WriteString(",\n    quality INTEGER,\n    year INTEGER,\n    temperature_2m_mean REAL,\n    rain_sum REAL\n)")
	return b.String()
}

// replaceTable drops and recreates a table and fills it inside one transaction.
func (s *Store) replaceTable(ctx context.Context, table, ddl, insert string, n int, args func(i int) []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin %s: %w", ErrWrite, table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("%w: drop %s: %w", ErrWrite, table, err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrWrite, table, err)
	}

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("%w: prepare %s insert: %w", ErrWrite, table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("%w: insert %s row %d: %w", ErrWrite, table, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %s: %w", ErrWrite, table, err)
	}
	metrics.RowsLoaded.WithLabelValues(table).Add(float64(n))
	return nil
}

// ReplaceWines replaces vins_enrichis with rows. IDs are assigned by the table.
func (s *Store) ReplaceWines(ctx context.Context, rows []models.EnrichedWine) error {
	cols := make([]string, 0, len(WineColumns)+4)
	for _, c := range WineColumns {
		cols = append(cols, quoteIdent(c))
	}
	cols = append(cols, "quality", "year", "temperature_2m_mean", "rain_sum")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		WineTable, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	return s.replaceTable(ctx, WineTable, wineTableDDL(), insert, len(rows), func(i int) []any {
		w := rows[i]
		return []any{
			w.FixedAcidity, w.VolatileAcidity, w.CitricAcid, w.ResidualSugar, w.Chlorides,
			w.FreeSulfurDioxide, w.TotalSulfurDioxide, w.Density, w.PH, w.Sulphates, w.Alcohol,
			w.Quality, w.Year, w.Temperature, w.Rain,
		}
	})
}

// ReplaceCountries replaces referentiel_pays with rows.
func (s *Store) ReplaceCountries(ctx context.Context, rows []models.CountryReference) error {
	ddl := `CREATE TABLE ` + CountryTable + ` (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pays TEXT,
    volume_production INTEGER
)`
	insert := "INSERT INTO " + CountryTable + " (pays, volume_production) VALUES (?, ?)"
	return s.replaceTable(ctx, CountryTable, ddl, insert, len(rows), func(i int) []any {
		return []any{rows[i].Name, rows[i].Volume}
	})
}

// tableColumns returns the column names of table, or nil if it does not exist.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, nil
}

// LoadWines reads vins_enrichis back in id order. The table must carry every
// feature column and quality, otherwise ErrSchema names the missing ones.
// Rows with null chemistry or quality are skipped; null weather is kept.
func (s *Store) LoadWines(ctx context.Context) ([]models.EnrichedWine, error) {
	cols, err := s.tableColumns(ctx, WineTable)
	if err != nil {
		return nil, err
	}
	if cols == nil {
		return nil, fmt.Errorf("%w: table %s not found", ErrSchema, WineTable)
	}
	var missing []string
	for _, c := range append(append([]string{}, FeatureColumns...), TargetColumn) {
		if !cols[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s is missing columns: %s", ErrSchema, WineTable, strings.Join(missing, ", "))
	}

	sel := make([]string, 0, len(FeatureColumns)+3)
	sel = append(sel, "rowid")
	for _, c := range FeatureColumns {
		sel = append(sel, quoteIdent(c))
	}
	sel = append(sel, TargetColumn)
	if cols["year"] {
		sel = append(sel, "year")
	} else {
		sel = append(sel, "NULL")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(sel, ", "), WineTable))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", WineTable, err)
	}
	defer rows.Close()

	var (
		wines   []models.EnrichedWine
		skipped int
	)
	for rows.Next() {
		var (
			id      int64
			chem    [11]sql.NullFloat64
			temp    sql.NullFloat64
			rain    sql.NullFloat64
			quality sql.NullInt64
			year    sql.NullInt64
		)
		dest := []any{&id}
		for i := range chem {
			dest = append(dest, &chem[i])
		}
		dest = append(dest, &temp, &rain, &quality, &year)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", WineTable, err)
		}

		complete := quality.Valid
		for _, c := range chem {
			complete = complete && c.Valid
		}
		if !complete {
			skipped++
			continue
		}

		var w models.EnrichedWine
		w.ID = id
		w.FixedAcidity = chem[0].Float64
		w.VolatileAcidity = chem[1].Float64
		w.CitricAcid = chem[2].Float64
		w.ResidualSugar = chem[3].Float64
		w.Chlorides = chem[4].Float64
		w.FreeSulfurDioxide = chem[5].Float64
		w.TotalSulfurDioxide = chem[6].Float64
		w.Density = chem[7].Float64
		w.PH = chem[8].Float64
		w.Sulphates = chem[9].Float64
		w.Alcohol = chem[10].Float64
		w.Quality = int(quality.Int64)
		w.Year = int(year.Int64)
		w.Temperature = temp
		w.Rain = rain
		wines = append(wines, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.Printf("store: skipped %d %s rows with null chemistry or quality", skipped, WineTable)
	}
	return wines, nil
}

// Countries returns referentiel_pays in id order, largest producers first
// when byVolume is set.
func (s *Store) Countries(ctx context.Context, byVolume bool) ([]models.CountryReference, error) {
	order := "id"
	if byVolume {
		order = "volume_production DESC, id"
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, pays, volume_production FROM "+CountryTable+" ORDER BY "+order)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", CountryTable, err)
	}
	defer rows.Close()

	var countries []models.CountryReference
	for rows.Next() {
		var c models.CountryReference
		if err := rows.Scan(&c.ID, &c.Name, &c.Volume); err != nil {
			return nil, err
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}

// CountRows returns the row count of one of the two data tables.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	if table != WineTable && table != CountryTable {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
