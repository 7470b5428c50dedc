package checkpoint

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/internal/tools"
)

func sampleConversation(id string) *state.Conversation {
	st := state.New(id)
	st.BeginRequest()
	st.AppendMessage(state.RoleUser, "Mexican restaurants in Austin, TX", "")
	st.SetIntent("Mexican restaurants", "Austin, TX", state.DetailReviews)
	st.MoveTo(state.PhaseDeciding)
	st.MoveTo(state.PhaseRunningSearch)
	st.ToolResults.Search = &tools.SearchResult{Businesses: []tools.Business{{ID: "b1", Name: "Suerte"}}}
	st.MarkCore("b1", "Suerte")
	st.MoveTo(state.PhaseDeciding)
	return st
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	missing, err := store.Load(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	st := sampleConversation("s1")
	require.NoError(t, store.Save(ctx, "s1", st))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.JSONEq(t, mustJSON(t, st), mustJSON(t, loaded))

	st.MoveTo(state.PhaseSummarizing)
	st.Summary = "one option"
	require.NoError(t, store.Save(ctx, "s1", st))
	loaded, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, state.PhaseSummarizing, loaded.Phase)
	assert.Equal(t, "one option", loaded.Summary)

	err = store.Save(ctx, "", st)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	exerciseStore(t, store)

	// a loaded snapshot is a copy
	loaded, _ := store.Load(context.Background(), "s1")
	loaded.Summary = "mutated"
	again, _ := store.Load(context.Background(), "s1")
	assert.Equal(t, "one option", again.Summary)

	require.NoError(t, store.Close())
	err := store.Save(context.Background(), "s1", loaded)
	assert.Equal(t, xerrors.CodeCheckpointFailure, xerrors.CodeOf(err))
}

func TestMemoryStoreConcurrentSessions(t *testing.T) {
	store := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, store.Save(context.Background(), id, sampleConversation(id)))
		}(i)
	}
	wg.Wait()
	for i := 0; i < 16; i++ {
		st, err := store.Load(context.Background(), string(rune('a'+i)))
		require.NoError(t, err)
		require.NotNil(t, st)
	}
}

func TestSQLiteStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoints.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Backend: BackendDurable, Driver: DriverSQLite, Path: path})
	require.NoError(t, err)
	exerciseStore(t, store)

	st, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, Config{Backend: BackendDurable, Driver: DriverSQLite, Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	restored, err := reopened.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.JSONEq(t, mustJSON(t, st), mustJSON(t, restored))
	assert.True(t, restored.Flags("b1").HasCore)
}

func TestSQLiteRequiresPath(t *testing.T) {
	_, err := NewSQL(context.Background(), DriverSQLite, Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestOpenSelectsBackend(t *testing.T) {
	store, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = Open(context.Background(), Config{Backend: "tape"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = Open(context.Background(), Config{Backend: BackendDurable, Driver: "postgres"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("CREATE TABLE a (x INT);\n\n CREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
	assert.Equal(t, "0002", parseMigrationVersion("0002_add_checkpoint_request.sql"))
}
