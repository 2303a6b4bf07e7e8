package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphq/recap/pkg/config"
)

type sentMail struct {
	from    string
	to      []string
	subject string
	body    string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendMail(_ context.Context, from string, to []string, subject, htmlBody string) error {
	m.sent = append(m.sent, sentMail{from: from, to: to, subject: subject, body: htmlBody})
	return m.err
}

func alertSettings() *config.Settings {
	s := config.DefaultSettings()
	s.AlertSender = "recap@contoso.com"
	s.AlertRecipients = []string{"ops@contoso.com"}
	return s
}

func TestAlerter_NilReceiver(t *testing.T) {
	var a *Alerter
	assert.False(t, a.SubscriptionDown(context.Background(), Outage{Resource: "r"}))
	a.SubscriptionRecovered(context.Background(), Recovery{Resource: "r"})
}

func TestAlerter_OutageSendsEmail(t *testing.T) {
	mailer := &fakeMailer{}
	a := New(mailer, nil, config.Static(alertSettings()), 0)

	sent := a.SubscriptionDown(context.Background(), Outage{
		Resource:       "/communications/callRecords",
		SubscriptionID: "sub-42",
		Reason:         "renew failed: 404 <gone>",
		Since:          time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	})

	require.True(t, sent)
	require.Len(t, mailer.sent, 1)
	mail := mailer.sent[0]
	assert.Equal(t, "recap@contoso.com", mail.from)
	assert.Equal(t, []string{"ops@contoso.com"}, mail.to)
	assert.Equal(t, "[recap] Subscription down: /communications/callRecords", mail.subject)
	assert.Contains(t, mail.body, "2026-03-14 09:30:00 UTC")
	assert.Contains(t, mail.body, "sub-42")
	assert.Contains(t, mail.body, "renew failed: 404 &lt;gone&gt;", "reason is HTML-escaped")
}

func TestAlerter_CooldownSuppressesRepeats(t *testing.T) {
	mailer := &fakeMailer{}
	a := New(mailer, nil, config.Static(alertSettings()), 6*time.Hour)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	now := base
	a.now = func() time.Time { return now }

	require.True(t, a.SubscriptionDown(context.Background(), Outage{Resource: "/communications/callRecords"}))

	now = base.Add(time.Hour)
	assert.False(t, a.SubscriptionDown(context.Background(), Outage{Resource: "/communications/callRecords"}),
		"repeat within cooldown is suppressed")
	assert.Len(t, mailer.sent, 1)

	// A different resource has its own cooldown slot.
	assert.True(t, a.SubscriptionDown(context.Background(), Outage{Resource: "/users/mailbox/messages"}))

	// Past the window the original resource alerts again.
	now = base.Add(7 * time.Hour)
	assert.True(t, a.SubscriptionDown(context.Background(), Outage{Resource: "/communications/callRecords"}))
	assert.Len(t, mailer.sent, 3)
}

func TestAlerter_RecoveryClearsCooldown(t *testing.T) {
	mailer := &fakeMailer{}
	a := New(mailer, nil, config.Static(alertSettings()), 6*time.Hour)

	down := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.True(t, a.SubscriptionDown(context.Background(), Outage{Resource: "/communications/callRecords", Since: down}))

	a.SubscriptionRecovered(context.Background(), Recovery{
		Resource:    "/communications/callRecords",
		DownSince:   down,
		RecoveredAt: down.Add(90 * time.Minute),
	})

	require.Len(t, mailer.sent, 2)
	recovery := mailer.sent[1]
	assert.Equal(t, "[recap] Subscription recovered: /communications/callRecords", recovery.subject)
	assert.Contains(t, recovery.body, "downtime 1h30m0s")

	// Relapse right after recovery alerts immediately.
	assert.True(t, a.SubscriptionDown(context.Background(), Outage{Resource: "/communications/callRecords"}))
}

func TestAlerter_DisabledSettingsSkipEverything(t *testing.T) {
	settings := alertSettings()
	settings.AlertsDisabled = true
	mailer := &fakeMailer{}
	a := New(mailer, nil, config.Static(settings), 0)

	assert.False(t, a.SubscriptionDown(context.Background(), Outage{Resource: "r"}))
	a.SubscriptionRecovered(context.Background(), Recovery{Resource: "r"})
	assert.Empty(t, mailer.sent)
}

func TestAlerter_NoRecipientsNoEmail(t *testing.T) {
	settings := config.DefaultSettings() // no sender/recipients configured
	mailer := &fakeMailer{}
	a := New(mailer, nil, config.Static(settings), 0)

	// Still counts as sent for cooldown purposes, email is just skipped.
	assert.True(t, a.SubscriptionDown(context.Background(), Outage{Resource: "r"}))
	assert.Empty(t, mailer.sent)
}

func TestAlerter_MailerFailureIsSwallowed(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp exploded")}
	a := New(mailer, nil, config.Static(alertSettings()), 0)

	assert.True(t, a.SubscriptionDown(context.Background(), Outage{Resource: "r"}))
	a.SubscriptionRecovered(context.Background(), Recovery{Resource: "r"})
}

func TestRecovery_Downtime(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Hour, Recovery{DownSince: now.Add(-time.Hour), RecoveredAt: now}.Downtime())
	assert.Equal(t, time.Duration(0), Recovery{DownSince: now.Add(time.Hour), RecoveredAt: now}.Downtime())
}
