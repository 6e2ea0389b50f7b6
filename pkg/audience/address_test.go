package audience

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		value   string
		typ     string
		display string
	}{
		{"user@example.com", "user@example.com", TypeEmail, ""},
		{"  Jane Doe <jane@example.com> ", "jane@example.com", TypeEmail, "Jane Doe"},
		{"+14155550100", "+14155550100", TypePhoneNumber, ""},
		{"(415) 555-0100", "4155550100", TypePhoneNumber, ""},
		{"https://hooks.example.com/x", "https://hooks.example.com/x", TypeWebhook, ""},
		{"ou_user_id", "ou_user_id", "", ""},
		{"device-token:fcm-abc123", "fcm-abc123", TypeDeviceToken, ""},
		{"Topic:news", "news", TypeTopic, ""},
		{"phone-number:+1 415 555 0100", "+14155550100", TypePhoneNumber, ""},
		{"pager: 42", "42", "pager", ""},
		{"http://hooks.example.com/x", "http://hooks.example.com/x", TypeWebhook, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			a := Parse(tt.raw)
			assert.Equal(t, tt.value, a.Value)
			assert.Equal(t, tt.typ, a.Type)
			assert.Equal(t, tt.display, a.Display)
		})
	}
}

func TestParseAll_SkipsBlank(t *testing.T) {
	got := ParseAll("a@b.io", " ", "", "+442071838750")
	require.Len(t, got, 2)
	assert.True(t, got[0].IsEmail())
	assert.True(t, got[1].IsPhoneNumber())
}

func TestAddressCapabilities(t *testing.T) {
	untyped := New("someone@example.org")
	assert.True(t, untyped.IsEmail())
	assert.False(t, untyped.IsPhoneNumber())

	typed := New("someone@example.org", WithType(TypeDeviceToken))
	assert.False(t, typed.IsEmail(), "explicit type wins over shape")
	assert.True(t, typed.IsDeviceToken())

	topic := New("news", WithType("TOPIC"))
	assert.True(t, topic.IsTopic())

	sender := New("noreply@example.org", WithPurposes(PurposeSender), WithDisplay("Shop"), WithAttribute("k", "v"))
	assert.True(t, sender.HasPurpose("SENDER"))
	assert.False(t, sender.HasPurpose(PurposeRecipient))
	assert.Equal(t, "Shop <noreply@example.org>", sender.String())
	assert.Equal(t, "v", sender.Attributes["k"])
}

func TestAddressValidate(t *testing.T) {
	vocab := NewVocabulary(TypeEmail, "Custom-Chat")

	assert.Error(t, New("  ").Validate(vocab))
	assert.NoError(t, New("x@y.io").Validate(vocab))
	assert.NoError(t, New("room-1", WithType("custom-chat")).Validate(vocab))
	assert.Error(t, New("room-1", WithType("pager")).Validate(vocab))
	assert.NoError(t, New("room-1", WithType("pager")).Validate(nil))
}

func TestVocabulary(t *testing.T) {
	v := NewVocabulary()
	assert.False(t, v.Recognized(TypeEmail))
	v.Register(TypeEmail, " ", TypePhoneNumber, "EMAIL")
	assert.True(t, v.Recognized("Email"))
	assert.Equal(t, []string{TypeEmail, TypePhoneNumber}, v.Types())
}
