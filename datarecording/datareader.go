package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Selection narrows and orders the rows a query reads. Where and OrderBy are
// SQL fragments over the column names, which are the field names of the
// mapped row type.
type Selection struct {
	Where   string
	Args    []any
	OrderBy string

	// Limit caps the number of rows. Zero reads every row and ignores
	// Offset.
	Limit  int
	Offset int
}

// ForRequest returns a copy of the selection restricted to one request. An
// empty requestID leaves it unchanged.
func (s Selection) ForRequest(requestID string) Selection {
	if requestID == "" {
		return s
	}

	if s.Where != "" {
		s.Where = "(" + s.Where + ") AND "
	}

	s.Where += "RequestID = ?"
	s.Args = append(append([]any(nil), s.Args...), requestID)

	return s
}

func (s Selection) filter(b *strings.Builder) {
	if s.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(s.Where)
	}
}

func (s Selection) window(b *strings.Builder) {
	if s.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(s.OrderBy)
	}

	if s.Limit <= 0 {
		return
	}

	fmt.Fprintf(b, " LIMIT %d", s.Limit)
	if s.Offset > 0 {
		fmt.Fprintf(b, " OFFSET %d", s.Offset)
	}
}

// DataReader reads back the rows a DataRecorder wrote.
type DataReader interface {
	// MapTable binds a table to the row type it was created with. A table
	// must be mapped before it is queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the mapped tables in name order.
	ListTables() []string

	// Query reads the selected rows of a table as pointers to its row type.
	// The count is the number of rows matching Where, before Limit applies.
	Query(ctx context.Context, tableName string, sel Selection) (
		rows []any,
		count int,
		err error,
	)

	// Close closes the database.
	Close() error
}

// Read is a typed Query. T must be the row type the table is mapped to.
func Read[T any](
	ctx context.Context,
	r DataReader,
	tableName string,
	sel Selection,
) ([]*T, int, error) {
	rows, count, err := r.Query(ctx, tableName, sel)
	if err != nil {
		return nil, 0, err
	}

	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		typed, ok := row.(*T)
		if !ok {
			return nil, 0, fmt.Errorf("table %s holds %T rows", tableName, row)
		}

		out = append(out, typed)
	}

	return out, count, nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// rowBinding maps the columns of a table to the fields of its row type.
type rowBinding struct {
	rowType reflect.Type
	fields  map[string]int
}

func newRowBinding(sampleEntry any) *rowBinding {
	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	t := reflect.TypeOf(sampleEntry)
	b := &rowBinding{rowType: t, fields: make(map[string]int, t.NumField())}

	for i := 0; i < t.NumField(); i++ {
		b.fields[t.Field(i).Name] = i
	}

	return b
}

// targets returns one scan destination per column. Columns without a field
// are scanned and dropped.
func (b *rowBinding) targets(row reflect.Value, columns []string) []any {
	dst := make([]any, len(columns))

	for i, c := range columns {
		if idx, ok := b.fields[c]; ok {
			dst[i] = row.Field(idx).Addr().Interface()
			continue
		}

		dst[i] = new(any)
	}

	return dst
}

func (b *rowBinding) scan(rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []any
	for rows.Next() {
		row := reflect.New(b.rowType)

		if err := rows.Scan(b.targets(row.Elem(), columns)...); err != nil {
			return nil, err
		}

		out = append(out, row.Interface())
	}

	return out, rows.Err()
}

type sqliteReader struct {
	*sql.DB

	lock     sync.RWMutex
	bindings map[string]*rowBinding
}

// NewReader opens a database file for reading.
func NewReader(dbFilename string) DataReader {
	db, err := sql.Open("sqlite3", dbFilename)
	if err != nil {
		panic(err)
	}

	return NewReaderWithDB(db)
}

// NewReaderWithDB creates a new DataReader with a given database
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		DB:       db,
		bindings: make(map[string]*rowBinding),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	if !identifier.MatchString(tableName) {
		panic(fmt.Sprintf("invalid table name %q", tableName))
	}

	b := newRowBinding(sampleEntry)

	r.lock.Lock()
	r.bindings[tableName] = b
	r.lock.Unlock()
}

func (r *sqliteReader) ListTables() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	tables := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		tables = append(tables, name)
	}

	sort.Strings(tables)

	return tables
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	sel Selection,
) ([]any, int, error) {
	r.lock.RLock()
	b, ok := r.bindings[tableName]
	r.lock.RUnlock()

	if !ok {
		return nil, 0, fmt.Errorf("table %s is not mapped", tableName)
	}

	var count strings.Builder
	count.WriteString("SELECT COUNT(*) FROM " + tableName)
	sel.filter(&count)

	var total int
	err := r.DB.QueryRowContext(ctx, count.String(), sel.Args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting %s: %w", tableName, err)
	}

	var query strings.Builder
	query.WriteString("SELECT * FROM " + tableName)
	sel.filter(&query)
	sel.window(&query)

	rows, err := r.DB.QueryContext(ctx, query.String(), sel.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", tableName, err)
	}
	defer rows.Close()

	out, err := b.scan(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", tableName, err)
	}

	return out, total, nil
}

func (r *sqliteReader) Close() error {
	return r.DB.Close()
}
