package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
)

// attemptView is the attempt as shown to a student.
type attemptView struct {
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// sessionView is the body of /access and /session and the websocket state event.
type sessionView struct {
	Phase            session.Phase               `json:"phase"`
	Token            string                      `json:"token,omitempty"`
	Evaluation       *model.EvaluationForStudent `json:"evaluation,omitempty"`
	Attempt          *attemptView                `json:"attempt,omitempty"`
	Submission       *model.Submission           `json:"submission,omitempty"`
	Answers          []model.Answer              `json:"answers"`
	RemainingSeconds int64                       `json:"remaining_seconds"`
	ServerTime       time.Time                   `json:"server_time"`
}

// submitView is the body of /submit and the websocket finalized event.
type submitView struct {
	Phase        session.Phase      `json:"phase"`
	Submission   *model.Submission  `json:"submission"`
	Report       *model.FinalReport `json:"report,omitempty"`
	ReportToken  string             `json:"report_token"`
	AlreadyFinal bool               `json:"already_final"`
}

func newSessionView(phase session.Phase, token string, st *service.SessionState) sessionView {
	v := sessionView{Phase: phase, Token: token}
	if st == nil {
		v.ServerTime = time.Now().UTC()
		return v
	}

	evaluation := st.Evaluation.ForStudent()
	v.Evaluation = &evaluation
	v.Attempt = &attemptView{ID: st.Attempt.ID, StartTime: st.Attempt.StartTime, EndTime: st.Attempt.EndTime}
	v.Submission = st.Submission
	v.Answers = st.Answers
	if v.Answers == nil {
		v.Answers = []model.Answer{}
	}
	v.RemainingSeconds = seconds(st.Remaining)
	v.ServerTime = st.Now
	return v
}

func newSubmitView(res *service.SubmitResult) submitView {
	return submitView{
		Phase:        session.PhaseDone,
		Submission:   res.Submission,
		Report:       res.Report,
		ReportToken:  res.ReportToken,
		AlreadyFinal: res.AlreadyFinal,
	}
}

// seconds rounds a countdown up so the client never shows 0 before the deadline.
func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
