// Package metrics evaluates advisory metric profiles against a node's IR.
// Results are only ever recorded; they never change node or run status.
package metrics

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/condition"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// ProfileSource resolves metric profiles by ID
type ProfileSource interface {
	Profile(id string) (catalog.MetricProfile, error)
}

// Input is what a profile is evaluated against
type Input struct {
	IR      interface{}
	IRValid bool
}

// Adapter evaluates metric profiles
type Adapter struct {
	profiles ProfileSource
	logger   logrus.FieldLogger
}

// NewAdapter creates a metrics adapter
func NewAdapter(profiles ProfileSource, logger logrus.FieldLogger) *Adapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Adapter{profiles: profiles, logger: logger}
}

// Evaluate runs every check of profileID. It returns an empty list when
// telemetry is disabled, when no profile is set or when the profile is unknown.
func (a *Adapter) Evaluate(ctx context.Context, enabled bool, profileID string, in Input) []models.MetricResult {
	if !enabled || profileID == "" {
		return []models.MetricResult{}
	}

	profile, err := a.profiles.Profile(profileID)
	if err != nil {
		a.logger.WithError(err).WithField("metric_profile_id", profileID).Warn("metric profile not found")
		return []models.MetricResult{}
	}

	results := make([]models.MetricResult, 0, len(profile.Checks))
	for _, check := range profile.Checks {
		if ctx.Err() != nil {
			break
		}
		results = append(results, evaluateCheck(check, in))
	}
	return results
}

// AllPassed reports whether every result with a pass/fail verdict passed
func AllPassed(results []models.MetricResult) bool {
	for _, r := range results {
		if r.Passed != nil && !*r.Passed {
			return false
		}
	}
	return true
}

func evaluateCheck(check catalog.MetricCheck, in Input) models.MetricResult {
	res := models.MetricResult{
		MetricKey: check.Key,
		Details:   map[string]interface{}{"type": check.Type},
	}
	if check.Path != "" {
		res.Details["path"] = check.Path
	}

	switch check.Type {
	case catalog.CheckIRValid:
		res.Value = boolNumber(in.IRValid)
		res.Passed = verdict(in.IRValid)

	case catalog.CheckFieldPresent:
		v, ok := condition.Lookup(in.IR, check.Path)
		present := ok && v != nil
		res.Value = boolNumber(present)
		res.Passed = verdict(present)

	case catalog.CheckArrayLength:
		v, ok := condition.Lookup(in.IR, check.Path)
		list, isList := v.([]interface{})
		if !ok || !isList {
			missing(&res, "array not found")
			break
		}
		n := float64(len(list))
		res.Value = n
		res.Passed = verdict(inRange(n, check.Min, check.Max))
		expectRange(&res, check)

	case catalog.CheckNumberRange:
		v, _ := condition.Lookup(in.IR, check.Path)
		n, ok := toFloat(v)
		if !ok {
			missing(&res, "number not found")
			break
		}
		res.Value = n
		res.Passed = verdict(inRange(n, check.Min, check.Max))
		expectRange(&res, check)

	case catalog.CheckStringIn:
		v, _ := condition.Lookup(in.IR, check.Path)
		s, ok := v.(string)
		if !ok {
			missing(&res, "string not found")
			break
		}
		res.Value = s
		found := false
		for _, allowed := range check.Values {
			if s == allowed {
				found = true
				break
			}
		}
		res.Passed = verdict(found)
		res.Details["expected"] = check.Values

	default:
		res.Value = "unsupported"
		res.Details["error"] = fmt.Sprintf("unknown check type %q", check.Type)
	}

	return res
}

func verdict(ok bool) *bool {
	return &ok
}

func boolNumber(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func missing(res *models.MetricResult, msg string) {
	res.Value = "missing"
	res.Passed = verdict(false)
	res.Details["error"] = msg
}

func expectRange(res *models.MetricResult, check catalog.MetricCheck) {
	expected := map[string]interface{}{}
	if check.Min != nil {
		expected["min"] = *check.Min
	}
	if check.Max != nil {
		expected["max"] = *check.Max
	}
	res.Details["expected"] = expected
}

func inRange(n float64, lo, hi *float64) bool {
	if lo != nil && n < *lo {
		return false
	}
	if hi != nil && n > *hi {
		return false
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
