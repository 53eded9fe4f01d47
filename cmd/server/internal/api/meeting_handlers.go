package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/cmd/server/internal/meetings"
)

// HandleListMeetings GET /api/v1/meetings
func HandleListMeetings(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.List(c.Request.Context(), principal(c).OrganizationID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"meetings": list})
	}
}

// HandleCreateMeeting POST /api/v1/meetings
// Required Role: EDITOR
func HandleCreateMeeting(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in meetings.CreateInput
		if !bindJSON(c, &in) {
			return
		}
		p := principal(c)
		meeting, err := svc.Create(c.Request.Context(), p.OrganizationID, p.UserID, in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"meeting": meeting})
	}
}

// HandleGetMeeting GET /api/v1/meetings/:meetingId
func HandleGetMeeting(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		meeting, err := svc.Get(c.Request.Context(), principal(c).OrganizationID, c.Param("meetingId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"meeting": meeting})
	}
}

// HandlePatchMeeting PATCH /api/v1/meetings/:meetingId
// Required Role: EDITOR
func HandlePatchMeeting(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in meetings.PatchInput
		if !bindJSON(c, &in) {
			return
		}
		p := principal(c)
		meeting, err := svc.Patch(c.Request.Context(), p.OrganizationID, p.UserID, c.Param("meetingId"), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"meeting": meeting})
	}
}

// HandleDeleteMeeting DELETE /api/v1/meetings/:meetingId
// Required Role: ADMIN
func HandleDeleteMeeting(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		if err := svc.Delete(c.Request.Context(), p.OrganizationID, p.UserID, c.Param("meetingId")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
