package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"neighborhood-resolver/ledger"
	"neighborhood-resolver/repository"
	"neighborhood-resolver/workflow"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const requestTimeout = 10 * time.Second

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// respondError maps domain errors to a status code and a short message.
func respondError(c *gin.Context, err error) {
	var awardErr *workflow.AwardError
	if errors.As(err, &awardErr) {
		log.WithField("issue", awardErr.Issue.ID.Hex()).Warnf("award failed: %v", awardErr.Err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": workflow.ErrAwardFailed.Error(),
			"issue": awardErr.Issue,
		})
		return
	}

	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Errorf("request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": message})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrValidation),
		errors.Is(err, workflow.ErrInvalidStatus),
		errors.Is(err, workflow.ErrInvalidPoints),
		errors.Is(err, ledger.ErrZeroDelta):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, workflow.ErrUnauthorized):
		return http.StatusForbidden, err.Error()

	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, workflow.ErrNotFound),
		errors.Is(err, workflow.ErrNoAward),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrVoucherNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrAwardSettled),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrAlreadyRedeemed),
		errors.Is(err, repository.ErrEmailTaken):
		return http.StatusConflict, err.Error()

	case errors.Is(err, workflow.ErrTransient),
		errors.Is(err, ledger.ErrTransient):
		return http.StatusServiceUnavailable, "Service temporarily unavailable, try again"
	}
	return http.StatusInternalServerError, "Something went wrong"
}

func pathID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return primitive.NilObjectID, false
	}
	return id, true
}
