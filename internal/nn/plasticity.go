package nn

import (
	"fmt"
	"strings"
)

const (
	PlasticityHebbian = "hebbian"
	PlasticityOja     = "oja"
)

func NormalizePlasticityRuleName(rule string) string {
	switch strings.ToLower(strings.TrimSpace(rule)) {
	case "", PlasticityHebbian, "hebbian_w":
		return PlasticityHebbian
	case PlasticityOja, "ojas", "ojas_w":
		return PlasticityOja
	default:
		return strings.ToLower(strings.TrimSpace(rule))
	}
}

func validatePlasticityRule(rule, original string) error {
	switch rule {
	case PlasticityHebbian, PlasticityOja:
		return nil
	default:
		return fmt.Errorf("unsupported plasticity rule: %s", original)
	}
}

// traceDelta is the unmodulated change of one plastic connection from pre to
// post given its current trace value p.
func traceDelta(rule string, pre, post, p float64) float64 {
	if rule == PlasticityOja {
		return post * (pre - post*p)
	}
	return pre * post
}

// traceDeltaGrad returns the partial derivatives of traceDelta with respect
// to pre, post and p.
func traceDeltaGrad(rule string, pre, post, p float64) (dPre, dPost, dP float64) {
	if rule == PlasticityOja {
		return post, pre - 2*post*p, -post * post
	}
	return post, pre, 0
}

// updateTrace computes next = clip((1-decay)*prev + mod*delta(pre, post)) for
// a row-major len(pre) x len(post) trace. raw receives the unclipped values
// when non-nil.
func updateTrace(rule string, decay, limit, mod float64, pre, post, prev, next, raw []float64) {
	cols := len(post)
	for i, x := range pre {
		row := i * cols
		for j, y := range post {
			u := (1-decay)*prev[row+j] + mod*traceDelta(rule, x, y, prev[row+j])
			if raw != nil {
				raw[row+j] = u
			}
			next[row+j] = SaturationWithSpread(u, limit)
		}
	}
}
