// Package domain defines the entities shared across the application:
// users, sessions, scanned answers, and the event types carried by the
// event bus.
package domain

import "time"

// QuestionType classifies how a student answered a question on the sheet.
type QuestionType string

const (
	MultipleChoice   QuestionType = "multiple_choice"
	ShortAnswer      QuestionType = "short_answer"
	EssayWriting     QuestionType = "essay_writing"
	MathematicalWork QuestionType = "mathematical_work"
)

// Accuracy reflects the analyzer's confidence in a scanned answer.
// Critical answers should be reviewed by a human.
type Accuracy string

const (
	AccuracyPerfect  Accuracy = "perfect"
	AccuracyPartial  Accuracy = "partial"
	AccuracyCritical Accuracy = "critical"
)

// User is an authenticated principal. Users are created through the
// signup flow and only ever looked up afterwards.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Handle    string    `json:"handle"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile returns the subset of user fields safe to send to clients.
func (u User) Profile() map[string]interface{} {
	return map[string]interface{}{
		"id":       u.ID,
		"username": u.Username,
		"handle":   u.Handle,
		"email":    u.Email,
	}
}

// LoginSession binds a session token to a user. A session is valid while
// is_available is true and expiration_at has not passed, and only for the
// user agent it was minted for.
type LoginSession struct {
	ID           string    `json:"id"`
	SessionToken string    `json:"session_token"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpirationAt time.Time `json:"expiration_at"`
	IsAvailable  bool      `json:"is_available"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address"`

	// EndedAt is set when the session is explicitly invalidated
	// (logout or replacement by a newer login).
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// SignupSession is a short-lived record created when an unknown email
// authenticates; completing signup consumes it and creates the user.
type SignupSession struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username,omitempty"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpirationAt time.Time `json:"expiration_at"`
	IsAvailable  bool      `json:"is_available"`
}

// AnswerItem is a single graded answer extracted from a sheet image.
type AnswerItem struct {
	Type     QuestionType `json:"type"`
	Problem  string       `json:"problem"`
	Answer   string       `json:"answer"`
	Accuracy Accuracy     `json:"accuracy"`
	Score    float64      `json:"score"`
}

// ScannedAnswer is one student's graded sheet produced by a scan job.
// StudentID and StudentName are nil when the analyzer could not extract
// them from the image.
type ScannedAnswer struct {
	ID           string       `json:"id"`
	JobID        string       `json:"job_id"`
	OwnerUserID  string       `json:"owner_user_id"`
	QuestionName string       `json:"question_name"`
	StudentID    *string      `json:"student_id"`
	StudentName  *string      `json:"student_name"`
	ScannedAt    time.Time    `json:"scanned_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Answers      []AnswerItem `json:"answers"`
}
