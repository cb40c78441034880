package domain

import (
	"encoding/json"
	"testing"
)

func TestEvent_GetString(t *testing.T) {
	e := Event{EventData: map[string]interface{}{"stage": "analyzing", "count": 3}}

	if v, ok := e.GetString("stage"); !ok || v != "analyzing" {
		t.Errorf("GetString(stage) = %q, %v", v, ok)
	}
	if _, ok := e.GetString("count"); ok {
		t.Error("GetString should reject non-string values")
	}
	if _, ok := e.GetString("missing"); ok {
		t.Error("GetString should report missing keys")
	}

	empty := Event{}
	if _, ok := empty.GetString("stage"); ok {
		t.Error("GetString on nil EventData should report not found")
	}
}

func TestParseJobCompletedData_InMemoryResults(t *testing.T) {
	sid := "6401234"
	results := []ScannedAnswer{
		{ID: "a1", QuestionName: "Quiz 1", StudentID: &sid, Answers: []AnswerItem{
			{Type: MultipleChoice, Problem: "1", Answer: "B", Accuracy: AccuracyPerfect, Score: 2},
		}},
	}
	e := NewJobCompletedEvent("user-a", "job-1", results)

	data := e.ParseJobCompletedData()
	if data.Failed() {
		t.Fatal("success payload should not report failure")
	}
	if len(data.Results) != 1 || data.Results[0].ID != "a1" {
		t.Errorf("Results = %+v", data.Results)
	}
	if *data.Results[0].StudentID != sid {
		t.Errorf("StudentID = %v", data.Results[0].StudentID)
	}
}

func TestParseJobCompletedData_AfterJSONRoundTrip(t *testing.T) {
	// Events reloaded from storage hold results as []interface{}.
	e := NewJobCompletedEvent("user-a", "job-1", []ScannedAnswer{
		{ID: "a1", QuestionName: "Quiz 1"},
	})

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var stored Event
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	data := stored.ParseJobCompletedData()
	if len(data.Results) != 1 || data.Results[0].QuestionName != "Quiz 1" {
		t.Errorf("Results after round trip = %+v", data.Results)
	}
}

func TestParseJobCompletedData_Failure(t *testing.T) {
	e := NewJobFailedEvent("user-a", "job-1", "scan timed out")

	data := e.ParseJobCompletedData()
	if !data.Failed() {
		t.Fatal("failure payload should report Failed")
	}
	if data.Error != "scan timed out" {
		t.Errorf("Error = %q", data.Error)
	}
	if data.Results != nil {
		t.Errorf("failure payload should carry no results, got %+v", data.Results)
	}
}

func TestParseJobProgressData(t *testing.T) {
	e := NewJobProgressEvent("user-a", "job-1", "persisting")
	data, ok := e.ParseJobProgressData()
	if !ok || data.Stage != "persisting" {
		t.Errorf("ParseJobProgressData = %+v, %v", data, ok)
	}

	noStage := Event{EventType: ScanJobProgress}
	if _, ok := noStage.ParseJobProgressData(); ok {
		t.Error("event without stage should not parse")
	}
}
