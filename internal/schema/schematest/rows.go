// Package schematest builds typed rows for tests in other packages.
package schematest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaignfin/internal/schema"
)

// Line renders one pipe-delimited record for table with the given fields
// set and every other column blank.
func Line(t testing.TB, table string, fields map[string]string) string {
	t.Helper()
	l, err := schema.DefaultRegistry().Latest(table)
	require.NoError(t, err)
	out := make([]string, len(l.Columns))
	for k, v := range fields {
		i := l.Index(k)
		require.GreaterOrEqual(t, i, 0, "column %s not in %s", k, table)
		out[i] = v
	}
	return strings.Join(out, schema.Delimiter)
}

// File renders several records as file contents.
func File(t testing.TB, table string, records ...map[string]string) string {
	t.Helper()
	var b strings.Builder
	for _, r := range records {
		b.WriteString(Line(t, table, r))
		b.WriteByte('\n')
	}
	return b.String()
}

// Rows parses records into typed rows, failing the test on any quarantine.
func Rows(t testing.TB, table string, records ...map[string]string) []*schema.Row {
	t.Helper()
	l, err := schema.DefaultRegistry().Latest(table)
	require.NoError(t, err)
	rows, rep, err := schema.ReadAll(l, strings.NewReader(File(t, table, records...)))
	require.NoError(t, err)
	require.Zero(t, rep.Quarantined, "unexpected quarantine: %+v", rep.Samples)
	return rows
}

// Header renders the comma-separated header line of the newest layout.
func Header(t testing.TB, table string) string {
	t.Helper()
	l, err := schema.DefaultRegistry().Latest(table)
	require.NoError(t, err)
	return strings.Join(l.Columns, ",") + "\n"
}
