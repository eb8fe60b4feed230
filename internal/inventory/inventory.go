// Package inventory enumerates the infrastructure resources that the
// detector monitors.
package inventory

import (
	"context"
	"fmt"

	"github.com/digitalocean/godo"

	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/models"
)

// Resource is a monitorable infrastructure resource.
type Resource struct {
	ID       string
	Name     string
	Type     models.ResourceType
	PublicIP string
	Region   string
	Size     string
	Tags     []string
}

// Instance returns the node-exporter scrape target for the resource.
func (r Resource) Instance() string {
	return fmt.Sprintf("%s:9100", r.PublicIP)
}

// Source lists the resources to monitor.
type Source interface {
	ListResources(ctx context.Context) ([]Resource, error)
}

// DigitalOceanInventory lists droplets from the DigitalOcean API,
// optionally filtered by tag.
type DigitalOceanInventory struct {
	client *godo.Client
	tag    string
	log    logger.Logger
}

// NewDigitalOceanInventory builds an inventory from an API token. An
// empty tag lists every droplet in the account.
func NewDigitalOceanInventory(token, tag string) *DigitalOceanInventory {
	return &DigitalOceanInventory{
		client: godo.NewFromToken(token),
		tag:    tag,
		log:    logger.New("inventory"),
	}
}

// NewDigitalOceanInventoryWithClient is used by tests to point the
// inventory at a fake API.
func NewDigitalOceanInventoryWithClient(client *godo.Client, tag string) *DigitalOceanInventory {
	return &DigitalOceanInventory{
		client: client,
		tag:    tag,
		log:    logger.New("inventory"),
	}
}

// ListResources pages through the droplet list and maps each droplet to
// a Resource with its public IPv4 address.
func (i *DigitalOceanInventory) ListResources(ctx context.Context) ([]Resource, error) {
	opt := &godo.ListOptions{PerPage: 200}
	var resources []Resource

	for {
		var (
			droplets []godo.Droplet
			resp     *godo.Response
			err      error
		)
		if i.tag != "" {
			droplets, resp, err = i.client.Droplets.ListByTag(ctx, i.tag, opt)
		} else {
			droplets, resp, err = i.client.Droplets.List(ctx, opt)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list droplets: %w", err)
		}

		for _, d := range droplets {
			resources = append(resources, dropletToResource(d))
		}

		if resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			break
		}
		opt.Page = page + 1
	}

	i.log.Debug("Inventory listed", logger.Int("count", len(resources)), logger.String("tag", i.tag))
	return resources, nil
}

func dropletToResource(d godo.Droplet) Resource {
	r := Resource{
		ID:   fmt.Sprintf("%d", d.ID),
		Name: d.Name,
		Type: models.ResourceDroplet,
		Size: d.SizeSlug,
		Tags: d.Tags,
	}
	if d.Region != nil {
		r.Region = d.Region.Slug
	}
	if d.Networks != nil {
		for _, net := range d.Networks.V4 {
			if net.Type == "public" {
				r.PublicIP = net.IPAddress
				break
			}
		}
		if r.PublicIP == "" && len(d.Networks.V4) > 0 {
			r.PublicIP = d.Networks.V4[0].IPAddress
		}
	}
	return r
}
