package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
	"github.com/NevoLevi/mini-project-cdss/internal/metrics"
)

// writeError maps the domain's failure taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownParameter),
		errors.Is(err, domain.ErrAmbiguousParameter):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoSuchMeasurement),
		errors.Is(err, domain.ErrUnknownPatient),
		errors.Is(err, domain.ErrUnknownRuleSet):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// asOf reads the optional "at" query parameter, defaulting to now.
func (s *Server) asOf(c *gin.Context) (time.Time, bool) {
	raw := c.Query("at")
	if raw == "" {
		return s.engine.Now(), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at must be RFC 3339"})
		return time.Time{}, false
	}
	return t, true
}

func queryTime(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required"})
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC 3339"})
		return time.Time{}, false
	}
	return t, true
}

// optionalTime reads a query time that may be absent; absent means zero.
func optionalTime(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC 3339"})
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) handleListPatients(c *gin.Context) {
	patients := s.engine.Patients()
	c.JSON(http.StatusOK, gin.H{"patients": patients, "count": len(patients)})
}

func (s *Server) handleFindPatients(c *gin.Context) {
	stateType, ok := domain.ParseStateType(c.Query("state"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state type"})
		return
	}
	value := c.Query("value")
	if value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}
	var gender domain.Gender
	if raw := c.Query("gender"); raw != "" {
		g, ok := domain.ParseGender(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized gender"})
			return
		}
		gender = g
	}
	asOf, ok := s.asOf(c)
	if !ok {
		return
	}

	patients, err := s.engine.FindPatients(c.Request.Context(), gender, stateType, value, asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients, "count": len(patients), "as_of": asOf})
}

func (s *Server) handleAllStates(c *gin.Context) {
	asOf, ok := s.asOf(c)
	if !ok {
		return
	}
	states, err := s.engine.AllPatientStatesAt(c.Request.Context(), asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": states, "as_of": asOf})
}

func (s *Server) handleStatus(c *gin.Context) {
	asOf, ok := s.asOf(c)
	if !ok {
		return
	}
	status, err := s.engine.Status(c.Request.Context(), asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": status, "as_of": asOf})
}

func (s *Server) handleLatestValue(c *gin.Context) {
	asOf, ok := s.asOf(c)
	if !ok {
		return
	}
	result, err := s.engine.GetLatestValue(c.Request.Context(), c.Param("id"), c.Param("param"), asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no authoritative value at the requested time"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleHistory(c *gin.Context) {
	start, ok := queryTime(c, "start")
	if !ok {
		return
	}
	end, ok := queryTime(c, "end")
	if !ok {
		return
	}
	asOf, ok := optionalTime(c, "at")
	if !ok {
		return
	}

	var hour *int
	if raw := c.Query("hour"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h < 0 || h > 23 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hour must be 0-23"})
			return
		}
		hour = &h
	}

	history, err := s.engine.History(c.Request.Context(), c.Param("id"), c.Param("param"), start, end, asOf, hour)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"measurements": history, "count": len(history)})
}

type measurementRequest struct {
	Parameter string    `json:"parameter" binding:"required"`
	Value     string    `json:"value" binding:"required"`
	Unit      string    `json:"unit"`
	ValidTime time.Time `json:"valid_time" binding:"required"`
}

func (s *Server) handleRecord(c *gin.Context) {
	var req measurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fact, err := s.engine.Record(c.Request.Context(), c.Param("id"), req.Parameter, req.Value, req.Unit, req.ValidTime)
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordFact("new")
	c.JSON(http.StatusCreated, fact)
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req measurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fact, err := s.engine.Update(c.Request.Context(), c.Param("id"), req.Parameter, req.Value, req.ValidTime)
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordFact("correction")
	c.JSON(http.StatusOK, fact)
}

func (s *Server) handleDelete(c *gin.Context) {
	param := c.Query("parameter")
	if param == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parameter is required"})
		return
	}

	var sel domain.ValidTimeSelector
	switch {
	case c.Query("valid_time") != "":
		t, ok := queryTime(c, "valid_time")
		if !ok {
			return
		}
		sel = domain.SelectorAt(t)
	case c.Query("day") != "":
		day, err := time.Parse("2006-01-02", c.Query("day"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
		sel = domain.SelectorDay(day)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "either valid_time or day is required"})
		return
	}

	removed, err := s.engine.Delete(c.Request.Context(), c.Param("id"), param, sel)
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordRetraction()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handlePatientStates(c *gin.Context) {
	asOf, ok := s.asOf(c)
	if !ok {
		return
	}
	states, err := s.engine.GetPatientStates(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	if states.Hemoglobin != "" {
		metrics.RecordClassification(domain.StateHemoglobin.String())
	}
	if states.Hematological != "" {
		metrics.RecordClassification(domain.StateHematological.String())
	}
	if states.ToxicityGrade.IsDefined() {
		metrics.RecordClassification(domain.StateSystemicToxicity.String())
	}
	c.JSON(http.StatusOK, states)
}

func (s *Server) handleStateIntervals(c *gin.Context) {
	stateType, ok := domain.ParseStateType(c.Param("state"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state type"})
		return
	}
	start, ok := queryTime(c, "start")
	if !ok {
		return
	}
	end, ok := queryTime(c, "end")
	if !ok {
		return
	}
	asOf, ok := optionalTime(c, "at")
	if !ok {
		return
	}

	intervals, err := s.engine.GetStateIntervals(c.Request.Context(), c.Param("id"), stateType, c.Query("target"), start, end, asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intervals": intervals, "count": len(intervals)})
}

func (s *Server) handleRecommendation(c *gin.Context) {
	asOf, ok := s.asOf(c)
	if !ok {
		return
	}
	rec, err := s.engine.GetTreatmentRecommendation(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordRecommendation(string(rec.Outcome.Kind))
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetKnowledge(c *gin.Context) {
	doc, err := s.kb.Document()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handlePutTable(c *gin.Context) {
	var rs domain.ClassificationRuleSet
	if err := c.ShouldBindJSON(&rs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.kb.UpdateTable(c.Param("name"), &rs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	metrics.RecordKnowledgeEdit("tables")
	c.JSON(http.StatusOK, gin.H{"updated": c.Param("name")})
}

func (s *Server) handlePutTreatments(c *gin.Context) {
	var rules domain.TreatmentRules
	if err := c.ShouldBindJSON(&rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.kb.UpdateTreatments(rules); err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordKnowledgeEdit("treatments")
	c.JSON(http.StatusOK, gin.H{"updated": "treatments"})
}

func (s *Server) handlePutValidityPeriods(c *gin.Context) {
	var periods map[string]domain.ValidityPeriodSpec
	if err := c.ShouldBindJSON(&periods); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.kb.UpdateValidityPeriods(periods); err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordKnowledgeEdit("validity_periods")
	c.JSON(http.StatusOK, gin.H{"updated": "validity_periods"})
}
