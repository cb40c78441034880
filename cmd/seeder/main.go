// Seeder populates a development database with a demo user, a live
// login session, and a handful of scanned answers so the frontend has
// something to render.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const demoToken = "demo-session-token-demo-session-token-demo-session-token-demo-session-token-demo-session-token-demo-session-token-demo1234"

func main() {
	dbPath := flag.String("db", "./config/examscan.db", "Database file to seed")
	userAgent := flag.String("user-agent", "Mozilla/5.0", "User agent the demo session is bound to")
	flag.Parse()

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	fmt.Println("Seeding database...")

	now := time.Now().UTC().Truncate(time.Second)
	userID := uuid.New().String()

	insert := func(collection, id string, doc map[string]interface{}) {
		body, err := json.Marshal(doc)
		if err != nil {
			log.Fatalf("Failed to marshal %s document: %v", collection, err)
		}
		_, err = db.Exec("INSERT OR REPLACE INTO documents (collection, id, body, created_at) VALUES (?, ?, ?, ?)",
			collection, id, string(body), now)
		if err != nil {
			log.Fatalf("Failed to insert into %s: %v", collection, err)
		}
	}

	insert("users", userID, map[string]interface{}{
		"id":         userID,
		"username":   "Demo Teacher",
		"handle":     "demo",
		"email":      "demo@example.com",
		"created_at": now.Format(time.RFC3339),
	})

	sessionID := uuid.New().String()
	insert("login_sessions", sessionID, map[string]interface{}{
		"id":            sessionID,
		"session_token": demoToken,
		"user_id":       userID,
		"created_at":    now.Format(time.RFC3339),
		"expiration_at": now.Add(60 * 24 * time.Hour).Format(time.RFC3339),
		"is_available":  true,
		"user_agent":    *userAgent,
		"ip_address":    "127.0.0.1",
	})

	studentID := "6401234"
	studentName := "Somsak P."
	jobID := uuid.New().String()
	sheets := []struct {
		question string
		answers  []map[string]interface{}
	}{
		{
			question: "Midterm: Algebra I",
			answers: []map[string]interface{}{
				{"type": "multiple_choice", "problem": "1", "answer": "B", "accuracy": "perfect", "score": 2},
				{"type": "short_answer", "problem": "2", "answer": "x = 4", "accuracy": "perfect", "score": 3},
				{"type": "mathematical_work", "problem": "3", "answer": "x^2 - 2x + 1 = (x-1)^2", "accuracy": "partial", "score": 4},
			},
		},
		{
			question: "Midterm: Essay Section",
			answers: []map[string]interface{}{
				{"type": "essay_writing", "problem": "1", "answer": "The industrial revolution changed...", "accuracy": "critical", "score": 6},
			},
		},
	}

	for i, sheet := range sheets {
		id := uuid.New().String()
		scannedAt := now.Add(time.Duration(-i) * time.Hour)
		insert("scanned_answers", id, map[string]interface{}{
			"id":            id,
			"job_id":        jobID,
			"owner_user_id": userID,
			"question_name": sheet.question,
			"student_id":    studentID,
			"student_name":  studentName,
			"scanned_at":    scannedAt.Format(time.RFC3339),
			"updated_at":    scannedAt.Format(time.RFC3339),
			"answers":       sheet.answers,
		})
	}

	fmt.Println("Seeding complete.")
	fmt.Printf("Demo user: demo@example.com (id %s)\n", userID)
	fmt.Printf("Session cookie: session_token=%s\n", demoToken)
	fmt.Printf("Bound user agent: %s\n", *userAgent)
}
