package distribution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/test/util"
)

type fakeDirectory struct {
	users map[string]*graph.User
	calls int
}

func (d *fakeDirectory) GetUser(_ context.Context, idOrEmail string) (*graph.User, error) {
	d.calls++
	if u, ok := d.users[idOrEmail]; ok {
		return u, nil
	}
	return nil, &graph.APIError{StatusCode: 404, Code: "Request_ResourceNotFound"}
}

type resolverEnv struct {
	prefs     *store.PreferenceStore
	aliases   *store.AliasStore
	meetings  *store.MeetingStore
	directory *fakeDirectory
	settings  *config.Settings
	resolver  *Resolver
	meeting   *models.Meeting
}

func setupResolver(t *testing.T) *resolverEnv {
	t.Helper()
	db := util.SetupTestDatabase(t)

	env := &resolverEnv{
		prefs:     store.NewPreferenceStore(db),
		aliases:   store.NewAliasStore(db),
		meetings:  store.NewMeetingStore(db),
		directory: &fakeDirectory{users: map[string]*graph.User{}},
		settings:  config.DefaultSettings(),
	}
	env.resolver = NewResolver(env.prefs, env.aliases, env.directory, config.Static(env.settings))

	env.meeting = &models.Meeting{MeetingID: "MTG-A", Subject: "Planning"}
	require.NoError(t, env.meetings.Create(context.Background(), env.meeting))
	return env
}

func attendee(email string) models.MeetingParticipant {
	return models.MeetingParticipant{
		Email:        &email,
		DisplayName:  email,
		Role:         models.RoleAttendee,
		Attended:     true,
		IdentityKind: models.IdentityInternal,
	}
}

func optIn(t *testing.T, env *resolverEnv, email string) {
	t.Helper()
	require.NoError(t, env.prefs.SetReceiveEmails(
		context.Background(), nil, email, EmailKey(email), true, "test"))
}

func TestResolve_FailClosedWithoutPreference(t *testing.T) {
	env := setupResolver(t)

	res, err := env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{attendee("unknown@contoso.com")})
	require.NoError(t, err)

	assert.Empty(t, res.Recipients)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, ReasonNoPreference, res.Excluded[0].Reason)
}

func TestResolve_DefaultOptInIncludesUnknownAddresses(t *testing.T) {
	env := setupResolver(t)
	env.settings.DefaultOptIn = true

	res, err := env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{attendee("unknown@contoso.com")})
	require.NoError(t, err)

	require.Len(t, res.Recipients, 1)
	assert.Empty(t, res.Excluded)

	// An explicit opt-out still wins over the permissive default.
	require.NoError(t, env.prefs.SetReceiveEmails(
		context.Background(), nil, "unknown@contoso.com", EmailKey("unknown@contoso.com"), false, "test"))
	res, err = env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{attendee("unknown@contoso.com")})
	require.NoError(t, err)
	assert.Empty(t, res.Recipients)
}

func TestResolve_OptedInAttendeeReceivesEmail(t *testing.T) {
	env := setupResolver(t)
	optIn(t, env, "alice@contoso.com")

	res, err := env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{attendee("alice@contoso.com")})
	require.NoError(t, err)

	require.Len(t, res.Recipients, 1)
	assert.Equal(t, "alice@contoso.com", res.Recipients[0].Email)
	assert.Empty(t, res.Excluded)
}

func TestResolve_OptedOutUser(t *testing.T) {
	env := setupResolver(t)
	require.NoError(t, env.prefs.SetReceiveEmails(
		context.Background(), nil, "bob@contoso.com", EmailKey("bob@contoso.com"), false, "test"))

	res, err := env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{attendee("bob@contoso.com")})
	require.NoError(t, err)

	assert.Empty(t, res.Recipients)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, ReasonOptedOut, res.Excluded[0].Reason)
}

func TestResolve_MeetingOverrideBeatsUserPreference(t *testing.T) {
	env := setupResolver(t)
	optIn(t, env, "carol@contoso.com")

	require.NoError(t, env.prefs.UpsertMeetingPreference(context.Background(), &models.MeetingPreference{
		MeetingID:     env.meeting.MeetingID,
		EmailKey:      EmailKey("carol@contoso.com"),
		UserEmail:     "carol@contoso.com",
		ReceiveEmails: false,
	}))

	res, err := env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{attendee("carol@contoso.com")})
	require.NoError(t, err)

	assert.Empty(t, res.Recipients)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, ReasonMeetingOptOut, res.Excluded[0].Reason)

	// A different meeting without the override still delivers.
	other := &models.Meeting{MeetingID: "MTG-B", Subject: "Other"}
	require.NoError(t, env.meetings.Create(context.Background(), other))

	res, err = env.resolver.Resolve(context.Background(), other,
		[]models.MeetingParticipant{attendee("carol@contoso.com")})
	require.NoError(t, err)
	require.Len(t, res.Recipients, 1)
}

func TestResolve_AliasResolvesToPrimaryAndCaches(t *testing.T) {
	env := setupResolver(t)
	userID := "guid-dave"
	env.directory.users["d.ave@contoso.com"] = &graph.User{
		ID:          userID,
		Mail:        "dave@contoso.com",
		DisplayName: "Dave",
	}
	optIn(t, env, "dave@contoso.com")

	res, err := env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{attendee("d.ave@contoso.com")})
	require.NoError(t, err)

	require.Len(t, res.Recipients, 1)
	assert.Equal(t, "dave@contoso.com", res.Recipients[0].Email)
	require.NotNil(t, res.Recipients[0].UserID)
	assert.Equal(t, userID, *res.Recipients[0].UserID)

	// Second resolve hits the alias cache, not the directory.
	callsAfterFirst := env.directory.calls
	_, err = env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{attendee("d.ave@contoso.com")})
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, env.directory.calls)
}

func TestResolve_DeduplicatesAndSkipsIneligible(t *testing.T) {
	env := setupResolver(t)
	optIn(t, env, "alice@contoso.com")

	noEmail := models.MeetingParticipant{DisplayName: "PSTN caller", Attended: true, IdentityKind: models.IdentityPSTN}
	absent := attendee("alice@contoso.com")
	absent.Attended = false

	res, err := env.resolver.Resolve(context.Background(), env.meeting,
		[]models.MeetingParticipant{
			attendee("alice@contoso.com"),
			attendee("Alice@Contoso.com"),
			noEmail,
			absent,
		})
	require.NoError(t, err)

	require.Len(t, res.Recipients, 1, "same alias-tolerant key resolves once")
	assert.Empty(t, res.Excluded)
}
