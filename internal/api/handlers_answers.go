package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/store"
)

// maxScanImages caps one submission. Larger batches should be split by
// the client; each image inflates the analysis request payload.
const maxScanImages = 10

func answersPaginationConfig() PaginationConfig {
	return PaginationConfig{
		DefaultLimit:     50,
		MaxLimit:         200,
		DefaultSortBy:    "scanned_at",
		DefaultSortOrder: "desc",
		AllowedSortBy: map[string]bool{
			"scanned_at":    true,
			"updated_at":    true,
			"question_name": true,
		},
	}
}

// handleListAnswers returns the caller's scanned answers, paginated.
func (s *RESTServer) handleListAnswers(c *gin.Context) {
	userID := c.GetString("user_id")
	p := ParsePagination(c, answersPaginationConfig())

	conds := []store.Condition{
		store.Where("owner_user_id", "==", userID),
	}

	total, err := s.store.Count(store.ScannedAnswers, conds)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	answers := []domain.ScannedAnswer{}
	err = s.store.Query(store.ScannedAnswers, conds, store.Options{
		Limit:    p.Limit,
		Offset:   p.Offset,
		SortBy:   p.SortBy,
		SortDesc: p.SortOrder == "desc",
	}, &answers)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"answers":    answers,
		"pagination": NewPaginationResponse(p, total),
	})
}

// handleActiveScans reports the caller's in-flight scan jobs.
func (s *RESTServer) handleActiveScans(c *gin.Context) {
	userID := c.GetString("user_id")
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"is_scanning": s.coordinator.IsScanning(userID),
		"active_jobs": s.coordinator.ActiveJobs(userID),
	})
}

// handleScanUpload accepts a multipart batch of sheet images and starts
// a scan job over them. The response carries only the job id; results
// arrive over the realtime channel.
func (s *RESTServer) handleScanUpload(c *gin.Context) {
	userID := c.GetString("user_id")

	form, err := c.MultipartForm()
	if err != nil {
		respondBadRequest(c, err, false)
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No images provided"})
		return
	}
	if len(files) > maxScanImages {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("At most %d images per scan", maxScanImages),
		})
		return
	}

	batchID := uuid.New().String()
	paths := make([]string, 0, len(files))
	for _, header := range files {
		path, err := s.uploads.Save(batchID, header)
		if err != nil {
			s.uploads.Remove(paths)
			respondBadRequest(c, err, true)
			return
		}
		paths = append(paths, path)
	}

	jobID, err := s.submitter.Submit(userID, paths)
	if err != nil {
		s.uploads.Remove(paths)
		respondWithError(c, http.StatusInternalServerError, "Failed to start scan", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "job_id": jobID})
}
