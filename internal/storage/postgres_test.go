package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/learnloop/chatrelay/internal/config"
	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postgresURLEnv names a disposable database. Tests are skipped without it.
const postgresURLEnv = "CHATRELAY_TEST_POSTGRES_URL"

// openTestPostgres connects to the database named by postgresURLEnv and
// returns a per-test id suffix. Rows using that suffix are removed on cleanup.
func openTestPostgres(t *testing.T) (*Postgres, string) {
	t.Helper()
	dsn := os.Getenv(postgresURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresURLEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := OpenPostgres(ctx, config.StoreConfig{
		Driver:         "postgres",
		URL:            dsn,
		MaxConns:       4,
		ConnectTimeout: 5 * time.Second,
		ConnectRetries: 1,
	}, nil)
	require.NoError(t, err)

	suffix := "-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		like := "%" + suffix
		ctx := context.Background()
		_, _ = p.pool.Exec(ctx, `DELETE FROM messages WHERE author_id LIKE $1`, like)
		_, _ = p.pool.Exec(ctx, `DELETE FROM communities WHERE id LIKE $1`, like)
		_, _ = p.pool.Exec(ctx, `DELETE FROM users WHERE id LIKE $1`, like)
		_ = p.Close()
	})
	return p, suffix
}

func TestPostgresUsersAndMembers(t *testing.T) {
	p, sfx := openTestPostgres(t)
	ctx := context.Background()
	alice, bob, carol := "alice"+sfx, "bob"+sfx, "carol"+sfx
	for _, id := range []string{alice, bob, carol} {
		require.NoError(t, p.UpsertUser(ctx, domain.User{ID: id, Email: id + "@example.com", Name: id}))
	}
	c1, c10 := "C1"+sfx, "C10"+sfx
	require.NoError(t, p.UpsertCommunity(ctx, Community{ID: c1, Name: "Gophers"}))
	require.NoError(t, p.UpsertCommunity(ctx, Community{ID: c10, Name: "Others"}))
	require.NoError(t, p.AddCommunityMember(ctx, c1, alice))
	require.NoError(t, p.AddCommunityMember(ctx, c1, bob))
	require.NoError(t, p.AddCommunityMember(ctx, c1, bob))
	require.NoError(t, p.AddCommunityMember(ctx, c10, carol))

	u, err := p.GetUser(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, alice+"@example.com", u.Email)
	assert.Empty(t, u.Skills)

	missing, err := p.GetUser(ctx, "nobody"+sfx)
	require.NoError(t, err)
	assert.Nil(t, missing)

	members, err := p.GetCommunityMembers(ctx, c1)
	require.NoError(t, err)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{alice, bob}, ids)

	empty, err := p.GetCommunityMembers(ctx, "unknown"+sfx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestPostgresCommunityHistoryNewestAscending(t *testing.T) {
	p, sfx := openTestPostgres(t)
	ctx := context.Background()
	alice := "alice" + sfx
	require.NoError(t, p.UpsertUser(ctx, domain.User{ID: alice, Email: alice + "@example.com", Name: "Alice"}))
	c1, c2 := "C1"+sfx, "C2"+sfx

	for i := range 5 {
		_, err := p.CreateMessage(ctx, domain.NewMessage{
			Content: fmt.Sprint(i), AuthorID: alice, CommunityID: c1, Type: domain.MessageTypeCommunity,
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := p.CreateMessage(ctx, domain.NewMessage{
		Content: "other", AuthorID: alice, CommunityID: c2, Type: domain.MessageTypeCommunity,
	})
	require.NoError(t, err)

	all, err := p.ListCommunityMessages(ctx, c1, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, m := range all {
		assert.Equal(t, fmt.Sprint(i), m.Content)
		require.NotNil(t, m.Author)
		assert.Equal(t, "Alice", m.Author.Name)
		require.NotNil(t, m.CommunityID)
		assert.Equal(t, c1, *m.CommunityID)
		assert.Nil(t, m.RecipientID)
	}

	newest, err := p.ListCommunityMessages(ctx, c1, 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "3", newest[0].Content)
	assert.Equal(t, "4", newest[1].Content)
}

func TestPostgresDirectHistoryIsSymmetricAndIsolated(t *testing.T) {
	p, sfx := openTestPostgres(t)
	ctx := context.Background()
	alice, bob, carol := "alice"+sfx, "bob"+sfx, "carol"+sfx
	for _, id := range []string{alice, bob} {
		require.NoError(t, p.UpsertUser(ctx, domain.User{ID: id, Email: id + "@example.com", Name: id}))
	}

	send := func(from, to, content string) {
		_, err := p.CreateMessage(ctx, domain.NewMessage{
			Content: content, AuthorID: from, RecipientID: to, Type: domain.MessageTypeDirect,
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	send(alice, bob, "hi bob")
	send(bob, alice, "hi alice")
	send(alice, carol, "unrelated")

	fromAlice, err := p.ListDirectMessages(ctx, alice, bob, 50)
	require.NoError(t, err)
	fromBob, err := p.ListDirectMessages(ctx, bob, alice, 50)
	require.NoError(t, err)

	require.Len(t, fromAlice, 2)
	assert.Equal(t, fromAlice, fromBob)
	assert.Equal(t, "hi bob", fromAlice[0].Content)
	assert.Equal(t, "hi alice", fromAlice[1].Content)

	withCarol, err := p.ListDirectMessages(ctx, carol, alice, 50)
	require.NoError(t, err)
	require.Len(t, withCarol, 1)
	assert.Equal(t, "unrelated", withCarol[0].Content)
	assert.Nil(t, withCarol[0].CommunityID)
}

func TestPostgresMissingAuthorInHistory(t *testing.T) {
	p, sfx := openTestPostgres(t)
	ctx := context.Background()
	ghost, c1 := "ghost"+sfx, "C1"+sfx

	_, err := p.CreateMessage(ctx, domain.NewMessage{
		Content: "boo", AuthorID: ghost, CommunityID: c1, Type: domain.MessageTypeCommunity,
	})
	require.NoError(t, err)

	msgs, err := p.ListCommunityMessages(ctx, c1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Author)
	assert.Equal(t, ghost, msgs[0].AuthorID)
}

func TestPostgresRejectsInvalidMessage(t *testing.T) {
	p, sfx := openTestPostgres(t)
	_, err := p.CreateMessage(context.Background(), domain.NewMessage{
		Content: "  ", AuthorID: "alice" + sfx, CommunityID: "C1" + sfx, Type: domain.MessageTypeCommunity,
	})
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}
