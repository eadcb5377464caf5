package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/calcview"
	"github.com/leapstack-labs/hdbgraph/internal/testutil"
)

// memSource serves files from a map; names listed in failRead fail to read.
type memSource struct {
	files    map[string]string
	failRead map[string]bool
	listErr  error
}

func (s *memSource) List(context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memSource) Read(_ context.Context, name string) ([]byte, error) {
	if s.failRead[name] {
		return nil, fmt.Errorf("permission denied")
	}
	return []byte(s.files[name]), nil
}

const cvXML = `<scenario id="CV_SALES">
  <dataSources>
    <DataSource id="V_ORDERS"><resourceUri>V_ORDERS</resourceUri></DataSource>
  </dataSources>
  <calculationViews>
    <calculationView xsi:type="Calculation:ProjectionView" id="Projection_1"><input node="#V_ORDERS"/></calculationView>
  </calculationViews>
</scenario>`

func fixture() *memSource {
	return &memSource{
		files: map[string]string{
			"cv/CV_SALES.hdbcalculationview": cvXML,
			"views/V_ORDERS.hdbview":         `VIEW "V_ORDERS" AS SELECT * FROM "S"."ORDERS"`,
			"procs/P_LOAD.sql": `/*---
depends_on: [S.CONFIG]
---*/
CREATE PROCEDURE P_LOAD AS BEGIN
  INSERT INTO S.ORDERS SELECT * FROM S.STAGE;
  CALL P_LOG();
END`,
			"broken.hdbcalculationview": `<scenario><calculationViews></scenario>`,
			"README.md":                 "# docs",
			"scratch.sql":               "SELECT 1",
		},
	}
}

func TestLoader_Load(t *testing.T) {
	l := New(Options{Concurrency: 2, Logger: testutil.NewTestLogger(t)})

	result, err := l.Load(context.Background(), fixture())
	require.NoError(t, err)

	require.Len(t, result.Artifacts, 3)
	assert.Equal(t, "cv/CV_SALES.hdbcalculationview", result.Artifacts[0].Path)
	assert.Equal(t, "procs/P_LOAD.sql", result.Artifacts[1].Path)
	assert.Equal(t, "views/V_ORDERS.hdbview", result.Artifacts[2].Path)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "broken.hdbcalculationview", result.Errors[0].Path)
	var parseErr *calcview.ParseError
	assert.True(t, errors.As(result.Errors[0], &parseErr))

	assert.ElementsMatch(t, []string{"README.md", "scratch.sql"}, result.Skipped)

	assert.Len(t, result.CalcViews(), 1)
	assert.Len(t, result.Views(), 1)
	assert.Len(t, result.Procedures(), 1)
	assert.Equal(t, "V_ORDERS", result.Views()[0].Name)
}

func TestResult_Graph(t *testing.T) {
	result, err := New(Options{}).Load(context.Background(), fixture())
	require.NoError(t, err)

	g := result.Graph()

	// Calculation view nodes come first, then views, then procedures.
	assert.Equal(t, []string{"Projection_1", "V_ORDERS", "S.ORDERS", "P_LOAD", "S.STAGE", "S.CONFIG"}, g.IDs())

	v, ok := g.Get("V_ORDERS")
	require.True(t, ok)
	assert.Equal(t, artifact.Table, v.Kind, "the calculation view registered the data source first")
	assert.Equal(t, []string{"S.ORDERS"}, v.Inputs)

	p, _ := g.Get("P_LOAD")
	assert.Equal(t, artifact.Procedure, p.Kind)
	assert.Equal(t, []string{"P_LOG", "S.CONFIG", "S.STAGE"}, p.Inputs)

	order := g.Order()
	assert.Len(t, order.Sequence, g.Len())
	assert.Empty(t, order.Unresolved)

	conflicts := result.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "V_ORDERS", conflicts[0].ID)
	assert.True(t, conflicts[0].Placeholder())
}

func TestResult_Find(t *testing.T) {
	result, err := New(Options{}).Load(context.Background(), fixture())
	require.NoError(t, err)

	a, ok := result.Find("p_load")
	require.True(t, ok)
	assert.Equal(t, Procedure, a.Type)

	a, ok = result.Find("views/V_ORDERS.hdbview")
	require.True(t, ok)
	assert.Equal(t, View, a.Type)

	_, ok = result.Find("missing")
	assert.False(t, ok)
}

func TestLoader_ReadFailureIsPerFile(t *testing.T) {
	src := fixture()
	src.failRead = map[string]bool{"views/V_ORDERS.hdbview": true}

	result, err := New(Options{}).Load(context.Background(), src)
	require.NoError(t, err)

	assert.Len(t, result.Artifacts, 2)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "views/V_ORDERS.hdbview", result.Errors[1].Path)
	assert.Contains(t, result.Errors[1].Error(), "permission denied")
}

func TestLoader_ListFailure(t *testing.T) {
	src := &memSource{listErr: errors.New("bucket not found")}

	_, err := New(Options{}).Load(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket not found")
}

func TestLoader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Load(ctx, fixture())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadBytes(t *testing.T) {
	a, err := LoadBytes("p.hdbprocedure", []byte(`PROCEDURE "S"."P" (IN x INT) AS BEGIN SELECT * FROM "S"."T"; END`))
	require.NoError(t, err)
	require.NotNil(t, a.Procedure)
	assert.Equal(t, "S.P", a.Procedure.Name)
	assert.Equal(t, []string{"S.T"}, a.Procedure.Reads)

	a, err = LoadBytes("renamed.sql", []byte("/*---\nkind: view\nname: S.RENAMED\n---*/\nCREATE VIEW v AS SELECT 1 FROM t"))
	require.NoError(t, err)
	assert.Equal(t, View, a.Type)
	assert.Equal(t, "S.RENAMED", a.Name())

	_, err = LoadBytes("x.sql", []byte("SELECT 1"))
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = LoadBytes("bad.sql", []byte("/*---\nbogus: 1\n---*/\nCREATE VIEW v AS SELECT 1"))
	var unknown *UnknownFieldError
	assert.True(t, errors.As(err, &unknown))
}

func TestLoadBytes_UTF16CalcView(t *testing.T) {
	// UTF-16LE with BOM and a matching declaration.
	src := `<?xml version="1.0" encoding="UTF-16"?><scenario id="CV_U16" description="Größe"/>`
	data := []byte{0xFF, 0xFE}
	for _, r := range src {
		data = append(data, byte(r), byte(r>>8))
	}

	a, err := LoadBytes("u16.hdbcalculationview", data)
	require.NoError(t, err)
	assert.Equal(t, "CV_U16", a.CalcView.ID)
	assert.Equal(t, "Größe", a.CalcView.Description)
}
