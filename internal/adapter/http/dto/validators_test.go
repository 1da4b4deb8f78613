package dto

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := TransferRequest{
		ToUserID: "  bob  ",
		Amount:   " 1.5 ",
		Note:     " lunch ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "bob", req.ToUserID)
	assert.Equal(t, "1.5", req.Amount)
	assert.Equal(t, "lunch", req.Note)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := RejectRequest{Notes: "missing receipt <script>alert('x')</script>"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Notes, "&lt;script&gt;")
	assert.NotContains(t, req.Notes, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	notes := "  end of fair  "
	req := CreateSettlementRequest{EventID: "ev-1", BusinessID: "biz-1", Method: "transfer", Notes: &notes}
	SanitizeStruct(&req)

	assert.Equal(t, "end of fair", *req.Notes)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := WithdrawalRequest{Amount: "3"}
	SanitizeStruct(&req)
	assert.Nil(t, req.Notes)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID(t *testing.T) {
	for _, tc := range []string{"user-001", "BIZ_002", "a.b.c", "simple123"} {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
	for _, tc := range []string{"user 001", "id<1>", "id;DROP", "", "a\nb"} {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		ok   bool
		want string
	}{
		{"10", true, "10"},
		{"0.0001", true, "0.0001"},
		{" 2.5000 ", true, "2.5"},
		{"1.23456", false, ""},
		{"0", false, ""},
		{"-1", false, ""},
		{"1e3", false, ""},
		{"abc", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			d, ok := ParseAmount(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, d.String())
			}
		})
	}
}

func TestBinding_UsesCustomValidators(t *testing.T) {
	gin.SetMode(gin.TestMode)

	bind := func(body string) error {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
		c.Request.Header.Set("Content-Type", "application/json")
		var req TransferRequest
		return c.ShouldBindJSON(&req)
	}

	require.NoError(t, bind(`{"to_user_id":"bob","amount":"1.25"}`))
	assert.Error(t, bind(`{"to_user_id":"bob","amount":"1.23456"}`))
	assert.Error(t, bind(`{"to_user_id":"bob; drop","amount":"1"}`))
	assert.Error(t, bind(`{"amount":"1"}`))
}
