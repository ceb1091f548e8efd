package orchestrate

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"attachment-sync/pkg/api"
)

// ResolveAssets turns the CLI asset selection into the ordered list of asset
// UIDs to reconcile. With explicit UIDs those are returned as given; with the
// all flag the server's asset list is fetched and filtered to deployed
// assets, since undeployed ones have no submissions to reconcile.
func ResolveAssets(ctx context.Context, client *api.Client, explicit []string, all bool, log *logrus.Entry) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if !all {
		return nil, fmt.Errorf("no assets selected: pass asset UIDs or --all-assets")
	}

	assets, err := client.ListAssets(ctx)
	if err != nil {
		return nil, err
	}

	uids := make([]string, 0, len(assets))
	for _, a := range assets {
		if !a.DeploymentActive {
			log.WithField("asset_uid", a.UID).Debug("Asset not deployed, skipping")
			continue
		}
		uids = append(uids, a.UID)
	}
	log.Infof("Resolved %d deployed assets out of %d listed", len(uids), len(assets))
	return uids, nil
}
