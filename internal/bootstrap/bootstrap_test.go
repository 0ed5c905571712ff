package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"github.com/alexjbarnes/linkstash/internal/models"
	"github.com/alexjbarnes/linkstash/internal/raindrop"
	"github.com/alexjbarnes/linkstash/internal/raindrop/raindroptest"
	"github.com/alexjbarnes/linkstash/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser  = "user-1"
	testToken = "tok"
)

var testDefaults = Defaults{RootTitle: "LinkStash", DefaultSpaceTitle: "Inbox"}

func testResolver(t *testing.T) (*Resolver, *raindroptest.Fake, *state.State) {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := raindroptest.New(raindrop.User{ID: "rd-1", DisplayName: "Alex"})
	fake.AcceptToken(testToken)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewResolver(fake, st, testDefaults, logger), fake, st
}

// --- Ensure ---

func TestEnsure_CreatesRootAndDefault(t *testing.T) {
	r, fake, st := testResolver(t)

	res, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)

	root, ok := fake.Collection(res.RootCollectionID)
	require.True(t, ok)
	assert.Equal(t, "LinkStash", root.Title)
	assert.Equal(t, "", root.ParentID)

	def, ok := fake.Collection(res.DefaultSpaceCollectionID)
	require.True(t, ok)
	assert.Equal(t, "Inbox", def.Title)
	assert.Equal(t, res.RootCollectionID, def.ParentID)

	assert.Equal(t, "LinkStash", res.RootTitle)
	assert.Equal(t, "Inbox", res.DefaultSpaceTitle)

	cfg, err := st.GetBootstrapConfig(testUser)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, res.RootCollectionID, cfg.RootCollectionID)
	assert.Equal(t, res.DefaultSpaceCollectionID, cfg.DefaultSpaceCollectionID)
}

func TestEnsure_Idempotent(t *testing.T) {
	r, fake, _ := testResolver(t)

	first, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)

	second, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, fake.Calls("CreateCollection"), "steady state must not create more collections")
}

func TestEnsure_AdoptsSingleTitleMatch(t *testing.T) {
	r, fake, _ := testResolver(t)
	rootID := fake.AddCollection("LinkStash", "")
	inboxID := fake.AddCollection("Inbox", rootID)

	res, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)
	assert.Equal(t, rootID, res.RootCollectionID)
	assert.Equal(t, inboxID, res.DefaultSpaceCollectionID)
	assert.Equal(t, 0, fake.Calls("CreateCollection"))
}

func TestEnsure_AmbiguousRootCreatesNew(t *testing.T) {
	r, fake, _ := testResolver(t)
	a := fake.AddCollection("LinkStash", "")
	b := fake.AddCollection("LinkStash", "")

	res, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)
	assert.NotEqual(t, a, res.RootCollectionID)
	assert.NotEqual(t, b, res.RootCollectionID)
}

func TestEnsure_NestedTitleMatchIsNotRoot(t *testing.T) {
	r, fake, _ := testResolver(t)
	parent := fake.AddCollection("Other", "")
	nested := fake.AddCollection("LinkStash", parent)

	res, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)
	assert.NotEqual(t, nested, res.RootCollectionID)
}

func TestEnsure_SelfHealsDeletedRoot(t *testing.T) {
	r, fake, _ := testResolver(t)

	first, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)

	_, err = fake.DeleteCollection(context.Background(), testToken, first.RootCollectionID)
	require.NoError(t, err)

	second, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RootCollectionID, second.RootCollectionID)

	def, ok := fake.Collection(second.DefaultSpaceCollectionID)
	require.True(t, ok)
	assert.Equal(t, second.RootCollectionID, def.ParentID)
}

func TestEnsure_PersistedRootThatGainedParentIsReplaced(t *testing.T) {
	r, fake, _ := testResolver(t)

	first, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)

	other := fake.AddCollection("Elsewhere", "")
	fake.SetParent(first.RootCollectionID, other)

	second, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RootCollectionID, second.RootCollectionID)
}

func TestEnsure_UsesPersistedTitles(t *testing.T) {
	r, fake, st := testResolver(t)
	require.NoError(t, st.UpsertBootstrapConfig(models.BootstrapConfig{
		UserID:            testUser,
		RootTitle:         "My Links",
		DefaultSpaceTitle: "Unsorted",
	}))

	res, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)
	assert.Equal(t, "My Links", res.RootTitle)

	root, _ := fake.Collection(res.RootCollectionID)
	assert.Equal(t, "My Links", root.Title)
	def, _ := fake.Collection(res.DefaultSpaceCollectionID)
	assert.Equal(t, "Unsorted", def.Title)
}

func TestEnsure_UnauthorizedPropagates(t *testing.T) {
	r, _, _ := testResolver(t)

	_, err := r.Ensure(context.Background(), testUser, "revoked")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnauthorized)
}

func TestEnsure_UpstreamFailurePropagates(t *testing.T) {
	r, fake, st := testResolver(t)
	fake.FailOn("ListCollections", apperrors.Upstream("raindrop request failed", errors.New("503")))

	_, err := r.Ensure(context.Background(), testUser, testToken)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstream, apperrors.KindOf(err))

	cfg, err := st.GetBootstrapConfig(testUser)
	require.NoError(t, err)
	assert.Nil(t, cfg, "nothing is persisted on failure")
}

// --- ListSpaces ---

func TestListSpaces_SortedCaseInsensitive(t *testing.T) {
	r, fake, _ := testResolver(t)
	res, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)

	fake.AddCollection("zeta", res.RootCollectionID)
	fake.AddCollection("Alpha", res.RootCollectionID)
	fake.AddCollection("  ", res.RootCollectionID)
	fake.AddCollection("nested", fake.AddCollection("beta", res.RootCollectionID))

	spaces, err := r.ListSpaces(context.Background(), testUser, testToken)
	require.NoError(t, err)

	var titles []string
	for _, s := range spaces {
		titles = append(titles, s.Title)
	}

	assert.Equal(t, []string{"Alpha", "beta", "Inbox", "zeta"}, titles)
}

func TestListSpaces_AlwaysContainsDefault(t *testing.T) {
	r, _, _ := testResolver(t)

	spaces, err := r.ListSpaces(context.Background(), testUser, testToken)
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	assert.Equal(t, "Inbox", spaces[0].Title)
}

func TestListSpaces_DefaultReresolvedWhenMoved(t *testing.T) {
	r, fake, _ := testResolver(t)
	res, err := r.Ensure(context.Background(), testUser, testToken)
	require.NoError(t, err)

	// The persisted default left the root; a child with the default title
	// takes its place and is listed exactly once.
	fake.SetParent(res.DefaultSpaceCollectionID, "")
	fake.AddCollection("Inbox", res.RootCollectionID)

	spaces, err := r.ListSpaces(context.Background(), testUser, testToken)
	require.NoError(t, err)

	count := 0
	for _, s := range spaces {
		if s.Title == "Inbox" {
			count++
		}
	}

	assert.Equal(t, 1, count)
}

func TestSortSpaces_Dedupes(t *testing.T) {
	spaces := sortSpaces(dedupe([]models.Space{
		{ID: "2", Title: "b"},
		{ID: "1", Title: "A"},
		{ID: "2", Title: "b"},
	}))
	assert.Equal(t, []models.Space{{ID: "1", Title: "A"}, {ID: "2", Title: "b"}}, spaces)
}
