package report

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *model.FinalReport {
	return &model.FinalReport{
		SubmissionID:    uuid.MustParse("6f1c9a52-3b7e-4c1d-9a0e-2f5b8d7c4e11"),
		StudentName:     "Sari Wulandari",
		EvaluationTitle: "Algoritma & Struktur Data?",
		FinalScore:      2.5,
		FraudAttempts:   1,
		SubmittedAt:     time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		Answers: []model.AnswerSummary{
			{QuestionID: uuid.MustParse("0b8e7f7a-1c2d-4e3f-8a9b-0c1d2e3f4a5b"), Question: "1+1?", Answer: "2 > 1 / ok", Score: 5},
		},
		Report: &model.Report{OverallFeedback: "Bagus sekali!", Strengths: []string{"Teliti"}},
	}
}

func TestEncode_IsQueryEscapedBase64(t *testing.T) {
	r := sampleReport()
	token, err := Encode(r)
	require.NoError(t, err)

	unescaped, err := url.QueryUnescape(token)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(unescaped)
	require.NoError(t, err)

	var back model.FinalReport
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, r.StudentName, back.StudentName)
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
}

func TestDecode_ToleratesTransportDamage(t *testing.T) {
	r := sampleReport()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	std := base64.StdEncoding.EncodeToString(raw)
	token, err := Encode(r)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"canonical", token},
		{"not escaped", std},
		{"escaped twice", url.QueryEscape(token)},
		{"plus turned into space", strings.ReplaceAll(std, "+", " ")},
		{"url-safe alphabet", base64.URLEncoding.EncodeToString(raw)},
		{"raw url-safe alphabet", base64.RawURLEncoding.EncodeToString(raw)},
		{"bare json", string(raw)},
		{"escaped json", url.QueryEscape(string(raw))},
		{"surrounding whitespace", "  " + token + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.token)
			require.NoError(t, err)
			assert.Equal(t, r.SubmissionID, got.SubmissionID)
			assert.Equal(t, r.EvaluationTitle, got.EvaluationTitle)
			assert.Equal(t, "2 > 1 / ok", got.Answers[0].Answer)
			require.NotNil(t, got.Report)
			assert.Equal(t, "Bagus sekali!", got.Report.OverallFeedback)
		})
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "   ", "%%%", "bm90IGpzb24=", "[1,2,3]"} {
		_, err := Decode(token)
		assert.ErrorIs(t, err, ErrUndecodable, "token %q", token)
	}
}

func TestURL_AppendsParameter(t *testing.T) {
	r := sampleReport()

	u, err := URL("https://exstem.example/report", r)
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)

	got, err := Decode(parsed.Query().Get(QueryParam))
	require.NoError(t, err)
	assert.Equal(t, r.SubmissionID, got.SubmissionID)

	u, err = URL("https://exstem.example/report?lang=id", r)
	require.NoError(t, err)
	assert.Contains(t, u, "?lang=id&r=")
}

func TestDecode_StripsMarkupFromNarrative(t *testing.T) {
	r := sampleReport()
	r.Answers[0].Answer = "if a<b { return }"
	r.Report = &model.Report{
		OverallFeedback:     `<script>alert(1)</script>Kerja bagus & rapi`,
		Strengths:           []string{`<b>Teliti</b>`},
		AreasForImprovement: []string{`<img src=x onerror=alert(1)>Latihan rekursi`},
		Message:             `<a href="javascript:alert(1)">Selamat</a>`,
	}
	token, err := Encode(r)
	require.NoError(t, err)

	got, err := Decode(token)
	require.NoError(t, err)
	require.NotNil(t, got.Report)
	assert.Equal(t, "Kerja bagus & rapi", got.Report.OverallFeedback)
	assert.Equal(t, []string{"Teliti"}, got.Report.Strengths)
	assert.Equal(t, []string{"Latihan rekursi"}, got.Report.AreasForImprovement)
	assert.Equal(t, "Selamat", got.Report.Message)
	assert.Equal(t, "if a<b { return }", got.Answers[0].Answer)
}
