package mail

import (
	"context"
	"errors"
	"testing"

	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/logger"
)

type stubClient struct {
	resp *rest.Response
	err  error
	sent []*sgmail.SGMailV3
}

func (s *stubClient) SendWithContext(_ context.Context, email *sgmail.SGMailV3) (*rest.Response, error) {
	s.sent = append(s.sent, email)
	return s.resp, s.err
}

func TestSendGridSenderBuildsMessage(t *testing.T) {
	client := &stubClient{resp: &rest.Response{StatusCode: 202}}
	sender := &SendGridSender{client: client, from: "library@example.edu", fromName: "Library"}

	err := sender.Send(context.Background(), Message{
		To:      "juan@example.edu",
		ToName:  "Juan",
		Subject: "Reminder: Return Your Borrowed Book",
		Body:    "please return",
	})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	sent := client.sent[0]
	assert.Equal(t, "library@example.edu", sent.From.Address)
	assert.Equal(t, "Reminder: Return Your Borrowed Book", sent.Subject)
	require.Len(t, sent.Personalizations, 1)
	assert.Equal(t, "juan@example.edu", sent.Personalizations[0].To[0].Address)
}

func TestSendGridSenderSurfacesFailures(t *testing.T) {
	sender := &SendGridSender{client: &stubClient{resp: &rest.Response{StatusCode: 401, Body: "bad key"}}}
	err := sender.Send(context.Background(), Message{To: "a@b.c", Subject: "s"})
	assert.ErrorContains(t, err, "401")

	sender = &SendGridSender{client: &stubClient{err: errors.New("network down")}}
	err = sender.Send(context.Background(), Message{To: "a@b.c", Subject: "s"})
	assert.ErrorContains(t, err, "network down")
}

func TestSendRequiresRecipient(t *testing.T) {
	sender := &LogSender{logg: logger.Nop()}
	assert.Error(t, sender.Send(context.Background(), Message{Subject: "s"}))
	assert.NoError(t, sender.Send(context.Background(), Message{To: "a@b.c", Subject: "s"}))
}

func TestNewSenderPicksImplementation(t *testing.T) {
	_, isLog := NewSender(config.SendgridConfig{}, logger.Nop()).(*LogSender)
	assert.True(t, isLog)

	_, isSendGrid := NewSender(config.SendgridConfig{APIKey: "SG.key"}, logger.Nop()).(*SendGridSender)
	assert.True(t, isSendGrid)
}
