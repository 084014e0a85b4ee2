package external

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodgemail/internal/types"
)

// mockSESAPI implements SESAPI for testing.
type mockSESAPI struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error)
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESAPI) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.lastInput = params
	return m.sendFn(ctx, params)
}

func testSendInput() types.SendInput {
	return types.SendInput{
		To: "owner@example.com",
		From: types.EmailAddress{
			Address: "noreply@lodgemail.example",
			Name:    "LodgeMail",
		},
		Subject:     "Checkout reminder",
		BodyHTML:    "<p>Checkout is at 10am.</p>",
		ReferenceID: "disp_123",
	}
}

func TestSESClient_Send_Success(t *testing.T) {
	api := &mockSESAPI{
		sendFn: func(_ context.Context, _ *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-001")}, nil
		},
	}
	client := NewSESClientWithAPI(api, SESClientConfig{ConfigSetName: "lodgemail-tracking"})

	msgID, err := client.Send(context.Background(), testSendInput())
	require.NoError(t, err)
	assert.Equal(t, "ses-msg-001", msgID)

	require.NotNil(t, api.lastInput)
	assert.Equal(t, "LodgeMail <noreply@lodgemail.example>", *api.lastInput.FromEmailAddress)
	assert.Equal(t, []string{"owner@example.com"}, api.lastInput.Destination.ToAddresses)
	assert.Equal(t, "lodgemail-tracking", *api.lastInput.ConfigurationSetName)
	require.Len(t, api.lastInput.EmailTags, 1)
	assert.Equal(t, "disp_123", *api.lastInput.EmailTags[0].Value)
	assert.Equal(t, "Checkout reminder", *api.lastInput.Content.Simple.Subject.Data)
	assert.Equal(t, "<p>Checkout is at 10am.</p>", *api.lastInput.Content.Simple.Body.Html.Data)
}

func TestSESClient_Send_NoFromName(t *testing.T) {
	api := &mockSESAPI{
		sendFn: func(_ context.Context, _ *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-002")}, nil
		},
	}
	client := NewSESClientWithAPI(api, SESClientConfig{})

	input := testSendInput()
	input.From.Name = ""

	_, err := client.Send(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "noreply@lodgemail.example", *api.lastInput.FromEmailAddress)
	assert.Nil(t, api.lastInput.ConfigurationSetName)
}

func TestSESClient_Send_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		sesErr   error
		wantCode types.ErrorCode
	}{
		{
			name:     "message rejected maps to blocked",
			sesErr:   &sestypes.MessageRejected{Message: aws.String("address suppressed")},
			wantCode: types.ErrCodeEmailBlocked,
		},
		{
			name:     "too many requests maps to rate limited",
			sesErr:   &sestypes.TooManyRequestsException{Message: aws.String("slow down")},
			wantCode: types.ErrCodeUpstreamRateLimited,
		},
		{
			name:     "sending paused maps to unavailable",
			sesErr:   &sestypes.SendingPausedException{Message: aws.String("account paused")},
			wantCode: types.ErrCodeUpstreamUnavailable,
		},
		{
			name:     "unknown error maps to provider error",
			sesErr:   errors.New("socket timeout"),
			wantCode: types.ErrCodeUpstreamEmailProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockSESAPI{
				sendFn: func(_ context.Context, _ *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
					return nil, tt.sesErr
				},
			}
			client := NewSESClientWithAPI(api, SESClientConfig{})

			_, err := client.Send(context.Background(), testSendInput())
			require.Error(t, err)

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}
