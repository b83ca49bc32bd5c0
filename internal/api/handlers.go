package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
	"github.com/pa-policy-engine/internal/review"
)

// EvaluateRequest asks for one patient evaluated against one policy version.
// Version is optional; the latest stored version is used when absent.
type EvaluateRequest struct {
	PayerName      string               `json:"payer_name" binding:"required"`
	MedicationName string               `json:"medication_name" binding:"required"`
	Version        string               `json:"version"`
	Patient        domain.PatientRecord `json:"patient" binding:"required"`
}

// DiffRequest asks for the classified difference between two stored versions.
type DiffRequest struct {
	PayerName      string `json:"payer_name" binding:"required"`
	MedicationName string `json:"medication_name" binding:"required"`
	OldVersion     string `json:"old_version" binding:"required"`
	NewVersion     string `json:"new_version" binding:"required"`
}

// ImpactRequest asks for the projected effect of a version change on the
// active cases for the pair.
type ImpactRequest struct {
	PayerName      string `json:"payer_name" binding:"required"`
	MedicationName string `json:"medication_name" binding:"required"`
	OldVersion     string `json:"old_version" binding:"required"`
	NewVersion     string `json:"new_version" binding:"required"`
}

// SyncRequest asks for one policy version pulled from the digitization
// pipeline into local storage. Version is optional; the pipeline's newest
// published version is used when absent.
type SyncRequest struct {
	PayerName      string `json:"payer_name" binding:"required"`
	MedicationName string `json:"medication_name" binding:"required"`
	Version        string `json:"version"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

// handleEvaluate evaluates one patient record against a policy version.
func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	policy, ok := s.loadPolicy(c, req.PayerName, req.MedicationName, req.Version)
	if !ok {
		return
	}

	report, err := s.evaluator.EvaluateCase(c.Request.Context(), policy, &req.Patient)
	if err != nil {
		if errors.Is(err, domain.ErrNoMatchingIndication) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":          "patient diagnoses match none of the policy's indications",
				"correlation_id": c.GetString("correlation_id"),
			})
			return
		}
		s.internalError(c, "evaluation failed", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleListVersions lists the stored versions for a (payer, medication)
// pair, oldest first.
func (s *Server) handleListVersions(c *gin.Context) {
	payer := c.Query("payer_name")
	medication := c.Query("medication_name")
	if payer == "" || medication == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "payer_name and medication_name query parameters are required",
			"correlation_id": c.GetString("correlation_id"),
		})
		return
	}

	versions, err := s.policies.ListVersions(c.Request.Context(), payer, medication)
	if err != nil {
		s.internalError(c, "listing versions failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payer_name":      payer,
		"medication_name": medication,
		"versions":        versions,
	})
}

// handleListPolicies lists the stored (payer, medication) pairs.
func (s *Server) handleListPolicies(c *gin.Context) {
	if s.catalog == nil {
		s.serviceUnavailable(c, "policy catalog is not configured")
		return
	}

	policies, err := s.catalog.ListPolicies(c.Request.Context())
	if err != nil {
		s.internalError(c, "listing policies failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

// handleSyncPolicy pulls one policy version from the digitization pipeline
// and stores it locally. With no version in the request, the pipeline's
// newest published version is synced.
func (s *Server) handleSyncPolicy(c *gin.Context) {
	if s.pipeline == nil || s.writer == nil {
		s.serviceUnavailable(c, "digitization pipeline is not configured")
		return
	}

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	version := req.Version
	if version == "" {
		versions, err := s.pipeline.ListVersions(ctx, req.PayerName, req.MedicationName)
		if err != nil {
			s.pipelineError(c, err)
			return
		}
		if len(versions) == 0 {
			c.JSON(http.StatusNotFound, gin.H{
				"error":          "pipeline has no published versions for this pair",
				"correlation_id": c.GetString("correlation_id"),
			})
			return
		}
		version = versions[len(versions)-1]
	}

	policy, err := s.pipeline.FetchPolicy(ctx, req.PayerName, req.MedicationName, version)
	if err != nil {
		s.pipelineError(c, err)
		return
	}

	if err := s.writer.Create(ctx, policy); err != nil {
		s.internalError(c, "storing synced policy failed", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"policy_id":       policy.PolicyID,
		"payer_name":      policy.PayerName,
		"medication_name": policy.MedicationName,
		"version":         policy.Version,
	})
}

// pipelineError maps pipeline failures onto responses: an unknown policy is
// the caller's mistake, anything else means the upstream is unhealthy.
func (s *Server) pipelineError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrPolicyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":          "pipeline has no such policy version",
			"correlation_id": c.GetString("correlation_id"),
		})
		return
	}
	s.log.WithError(err).Error("Digitization pipeline request failed")
	c.JSON(http.StatusBadGateway, gin.H{
		"error":          "digitization pipeline request failed",
		"correlation_id": c.GetString("correlation_id"),
	})
}

// handleDiff computes (or returns the cached) diff between two versions.
func (s *Server) handleDiff(c *gin.Context) {
	var req DiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	diff, ok := s.loadOrComputeDiff(c, req.PayerName, req.MedicationName, req.OldVersion, req.NewVersion)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, diff)
}

// handleImpact runs the diff and projects it across the pair's active cases.
func (s *Server) handleImpact(c *gin.Context) {
	var req ImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	if s.config.Engine.ImpactTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Engine.ImpactTimeout)
		defer cancel()
	}

	oldPolicy, ok := s.loadPolicy(c, req.PayerName, req.MedicationName, req.OldVersion)
	if !ok {
		return
	}
	newPolicy, ok := s.loadPolicy(c, req.PayerName, req.MedicationName, req.NewVersion)
	if !ok {
		return
	}

	diff, ok := s.loadOrComputeDiff(c, req.PayerName, req.MedicationName, req.OldVersion, req.NewVersion)
	if !ok {
		return
	}

	cases, err := s.cases.ListActive(ctx, req.PayerName, req.MedicationName)
	if err != nil {
		s.internalError(c, "listing active cases failed", err)
		return
	}

	report, err := s.analyzer.Analyze(ctx, oldPolicy, newPolicy, diff, cases)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error":          "impact analysis did not complete in time",
				"correlation_id": c.GetString("correlation_id"),
			})
			return
		}
		s.internalError(c, "impact analysis failed", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleSaveReview records an analyst's decision on a case evaluation.
func (s *Server) handleSaveReview(c *gin.Context) {
	var rev review.Review
	if err := c.ShouldBindJSON(&rev); err != nil {
		s.badRequest(c, err)
		return
	}
	if rev.CaseID == "" || rev.PolicyVersion == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "case_id and policy_version are required",
			"correlation_id": c.GetString("correlation_id"),
		})
		return
	}

	if err := s.reviews.Save(c.Request.Context(), &rev); err != nil {
		s.internalError(c, "saving review failed", err)
		return
	}

	c.JSON(http.StatusCreated, rev)
}

// handleListReviews lists stored reviews, newest first.
func (s *Server) handleListReviews(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	reviews, err := s.reviews.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.internalError(c, "listing reviews failed", err)
		return
	}

	count, err := s.reviews.Count(c.Request.Context())
	if err != nil {
		s.internalError(c, "counting reviews failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews": reviews,
		"total":   count,
	})
}

// handleGetReview fetches the review for one case under one policy version.
func (s *Server) handleGetReview(c *gin.Context) {
	caseID := c.Param("case_id")
	version := c.Query("policy_version")
	if version == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "policy_version query parameter is required",
			"correlation_id": c.GetString("correlation_id"),
		})
		return
	}

	rev, err := s.reviews.Get(c.Request.Context(), caseID, version)
	if err != nil {
		s.internalError(c, "fetching review failed", err)
		return
	}
	if rev == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":          "review not found",
			"correlation_id": c.GetString("correlation_id"),
		})
		return
	}

	c.JSON(http.StatusOK, rev)
}

// loadPolicy fetches one policy version, or the latest when version is
// empty. Writes the error response and returns false on failure.
func (s *Server) loadPolicy(c *gin.Context, payer, medication, version string) (*domain.DigitizedPolicy, bool) {
	var (
		policy *domain.DigitizedPolicy
		err    error
	)
	if version == "" {
		policy, err = s.policies.GetLatest(c.Request.Context(), payer, medication)
	} else {
		policy, err = s.policies.GetVersion(c.Request.Context(), payer, medication, version)
	}
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":          "policy not found",
				"correlation_id": c.GetString("correlation_id"),
			})
			return nil, false
		}
		s.internalError(c, "loading policy failed", err)
		return nil, false
	}
	return policy, true
}

// loadOrComputeDiff checks the diff cache before computing. Cache failures
// degrade to recomputation rather than failing the request.
func (s *Server) loadOrComputeDiff(c *gin.Context, payer, medication, oldVersion, newVersion string) (*domain.PolicyDiff, bool) {
	ctx := c.Request.Context()

	if s.diffs != nil {
		cached, hit, err := s.diffs.Get(ctx, payer, medication, oldVersion, newVersion)
		if err != nil {
			s.log.WithError(err).Warn("Diff cache read failed, recomputing")
		} else if hit {
			return cached, true
		}
	}

	oldPolicy, ok := s.loadPolicy(c, payer, medication, oldVersion)
	if !ok {
		return nil, false
	}
	newPolicy, ok := s.loadPolicy(c, payer, medication, newVersion)
	if !ok {
		return nil, false
	}

	diff, err := s.diffEngine.Diff(oldPolicy, newPolicy)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.Is(err, domain.ErrPolicyMismatch) || errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":          err.Error(),
				"correlation_id": c.GetString("correlation_id"),
			})
			return nil, false
		}
		s.internalError(c, "diff failed", err)
		return nil, false
	}

	if s.diffs != nil {
		if err := s.diffs.Set(ctx, diff); err != nil {
			s.log.WithError(err).Warn("Diff cache write failed")
		}
	}

	return diff, true
}

func (s *Server) serviceUnavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":          msg,
		"correlation_id": c.GetString("correlation_id"),
	})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":          err.Error(),
		"correlation_id": c.GetString("correlation_id"),
	})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.log.WithFields(logrus.Fields{
		"correlation_id": c.GetString("correlation_id"),
		"error":          err,
	}).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":          msg,
		"correlation_id": c.GetString("correlation_id"),
	})
}
