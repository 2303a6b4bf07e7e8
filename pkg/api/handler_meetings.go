package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/store"
)

// handleListMeetings serves meetings newest-first. Query parameters:
// status, limit (default 50, max 200), offset.
func (s *Server) handleListMeetings(c *gin.Context) {
	status := models.MeetingStatus(c.Query("status"))
	limit := intQuery(c, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := intQuery(c, "offset", 0)

	meetings, err := s.deps.Meetings.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}

	counts, err := s.deps.Meetings.CountByStatus(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meetings":  meetings,
		"by_status": counts,
		"limit":     limit,
		"offset":    offset,
	})
}

// handleGetMeeting serves one meeting with its current summary,
// participants, and job history. A meeting without a summary yet is still a
// 200; only a missing meeting is a 404.
func (s *Server) handleGetMeeting(c *gin.Context) {
	ctx := c.Request.Context()
	meetingID := c.Param("id")

	meeting, err := s.deps.Meetings.GetByMeetingID(ctx, meetingID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	body := gin.H{"meeting": meeting}

	summary, err := s.deps.Summaries.GetCurrent(ctx, meetingID)
	switch {
	case err == nil:
		body["summary"] = summary
	case !errors.Is(err, store.ErrNotFound):
		s.writeError(c, err)
		return
	}

	parts, err := s.deps.Parts.ListByMeeting(ctx, meetingID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	body["participants"] = parts

	jobs, err := s.deps.Queue.ListByMeeting(ctx, meetingID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	body["jobs"] = jobs

	c.JSON(http.StatusOK, body)
}

type reprocessRequest struct {
	CustomInstructions string `json:"custom_instructions"`
	RequestedBy        string `json:"requested_by"`
}

// handleReprocess cancels the meeting's live jobs and enqueues a fresh
// chain at elevated priority, optionally carrying operator instructions to
// the summary step.
func (s *Server) handleReprocess(c *gin.Context) {
	ctx := c.Request.Context()
	meetingID := c.Param("id")

	var req reprocessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	meeting, err := s.deps.Meetings.GetByMeetingID(ctx, meetingID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	cancelled, err := s.deps.Queue.CancelMeetingJobs(ctx, meetingID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	input := models.JSONMap{"meeting_id": meetingID}
	if meeting.OrganizerUserID != nil {
		input["organizer_user_id"] = *meeting.OrganizerUserID
	}
	if req.RequestedBy != "" {
		input["requested_by"] = req.RequestedBy
	}
	if req.CustomInstructions != "" {
		input["custom_instructions"] = req.CustomInstructions
	}

	jobs, err := s.deps.Queue.EnqueueMeetingChain(ctx, meetingID, 1, input)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.log.Info("Reprocess requested", "meeting_id", meetingID,
		"cancelled", cancelled, "requested_by", req.RequestedBy)
	c.JSON(http.StatusAccepted, gin.H{
		"cancelled": cancelled,
		"jobs":      jobs,
	})
}

// handleCancelJobs fails the meeting's pending and retrying jobs. Running
// jobs finish on their own.
func (s *Server) handleCancelJobs(c *gin.Context) {
	meetingID := c.Param("id")

	if _, err := s.deps.Meetings.GetByMeetingID(c.Request.Context(), meetingID); err != nil {
		s.writeError(c, err)
		return
	}

	cancelled, err := s.deps.Queue.CancelMeetingJobs(c.Request.Context(), meetingID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
