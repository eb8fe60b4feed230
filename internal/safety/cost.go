package safety

import (
	"fmt"

	"github.com/catherinevee/remedymgr/internal/models"
)

// CostEstimate breaks down the projected cost of a remediation plan.
type CostEstimate struct {
	OneTime         float64            `json:"one_time"`
	Monthly         float64            `json:"monthly"`
	TotalFirstMonth float64            `json:"total_first_month"`
	Breakdown       map[string]float64 `json:"breakdown"`
}

// Monthly price deltas per action. Volume pricing is per GB and scaled
// by the size_gb parameter.
const (
	dropletResizeMonthly  = 12.0
	volumePerGBMonthly    = 0.10
	loadBalancerMonthly   = 12.0
	kubernetesNodeMonthly = 12.0
)

// EstimateCost computes the cost of a plan from its declared estimate
// or from the action cost table.
func EstimateCost(plan *models.RemediationPlan) CostEstimate {
	estimate := CostEstimate{Breakdown: make(map[string]float64)}

	if plan.EstimatedCost != nil {
		estimate.Monthly = *plan.EstimatedCost
		estimate.Breakdown["declared"] = *plan.EstimatedCost
		estimate.TotalFirstMonth = estimate.OneTime + estimate.Monthly
		return estimate
	}

	switch plan.Action {
	case models.ActionResizeDroplet:
		estimate.Monthly = dropletResizeMonthly
		estimate.Breakdown["droplet_resize"] = dropletResizeMonthly

	case models.ActionAddVolume:
		sizeGB := paramFloat(plan.Parameters, "size_gb", 100)
		cost := sizeGB * volumePerGBMonthly
		estimate.Monthly = cost
		estimate.Breakdown[fmt.Sprintf("volume_%dgb", int(sizeGB))] = cost

	case models.ActionUpdateLoadBalancer:
		estimate.Monthly = loadBalancerMonthly
		estimate.Breakdown["load_balancer"] = loadBalancerMonthly

	case models.ActionScaleKubernetes:
		nodes := paramFloat(plan.Parameters, "node_count", 1)
		cost := nodes * kubernetesNodeMonthly
		estimate.Monthly = cost
		estimate.Breakdown["kubernetes_nodes"] = cost

	case models.ActionUpdateFirewall, models.ActionRestartService, models.ActionCleanDisk:
		estimate.Breakdown["no_charge"] = 0
	}

	estimate.TotalFirstMonth = estimate.OneTime + estimate.Monthly
	return estimate
}

func paramFloat(params map[string]interface{}, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}
