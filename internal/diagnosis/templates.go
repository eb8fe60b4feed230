package diagnosis

import (
	"fmt"
	"strings"

	"github.com/catherinevee/remedymgr/internal/models"
)

// renderChangeDocument produces a terraform document for an action from
// the built-in templates. Actions that do not change managed
// infrastructure (restart, clean disk) render as provisioner runs.
func renderChangeDocument(plan *models.RemediationPlan) string {
	name := paramString(plan.Parameters, "resource_name", "target")
	name = sanitizeName(name)

	switch plan.Action {
	case models.ActionResizeDroplet:
		size := paramString(plan.Parameters, "new_size", "s-2vcpu-4gb")
		return fmt.Sprintf(`resource "digitalocean_droplet" "%s" {
  name   = "%s"
  size   = "%s"
  resize_disk = false
}
`, name, paramString(plan.Parameters, "resource_name", name), size)

	case models.ActionAddVolume:
		sizeGB := int(paramFloat(plan.Parameters, "size_gb", 100))
		return fmt.Sprintf(`resource "digitalocean_volume" "%s_data" {
  name                    = "%s-data"
  region                  = "nyc3"
  size                    = %d
  initial_filesystem_type = "ext4"
}

resource "digitalocean_volume_attachment" "%s_data" {
  droplet_id = digitalocean_droplet.%s.id
  volume_id  = digitalocean_volume.%s_data.id
}
`, name, name, sizeGB, name, name, name)

	case models.ActionUpdateFirewall:
		return fmt.Sprintf(`resource "digitalocean_firewall" "%s" {
  name        = "%s-firewall"
  droplet_ids = [digitalocean_droplet.%s.id]

  inbound_rule {
    protocol         = "tcp"
    port_range       = "443"
    source_addresses = ["0.0.0.0/0", "::/0"]
  }
}
`, name, name, name)

	case models.ActionScaleKubernetes:
		nodes := int(paramFloat(plan.Parameters, "node_count", 3))
		return fmt.Sprintf(`resource "digitalocean_kubernetes_node_pool" "%s" {
  name       = "%s-pool"
  size       = "s-2vcpu-4gb"
  node_count = %d
}
`, name, name, nodes)

	case models.ActionUpdateLoadBalancer:
		return fmt.Sprintf(`resource "digitalocean_loadbalancer" "%s" {
  name   = "%s-lb"
  region = "nyc3"

  forwarding_rule {
    entry_protocol  = "https"
    entry_port      = 443
    target_protocol = "http"
    target_port     = 80
  }
}
`, name, name)

	case models.ActionRestartService:
		service := paramString(plan.Parameters, "service_name", "app")
		return fmt.Sprintf(`resource "null_resource" "restart_%s" {
  triggers = {
    plan_id = "%s"
  }

  provisioner "remote-exec" {
    inline = ["sudo systemctl restart %s"]
  }
}
`, name, plan.ID, service)

	case models.ActionCleanDisk:
		return fmt.Sprintf(`resource "null_resource" "clean_%s" {
  triggers = {
    plan_id = "%s"
  }

  provisioner "remote-exec" {
    inline = [
      "sudo journalctl --vacuum-size=200M",
      "sudo find /tmp -type f -atime +2 -delete",
    ]
  }
}
`, name, plan.ID)

	default:
		return ""
	}
}

func paramString(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func paramFloat(params map[string]interface{}, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}

func sanitizeName(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == ' ':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "target"
	}
	return b.String()
}
