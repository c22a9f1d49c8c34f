package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pagespace/internal/siem"
	"pagespace/internal/store"
)

type destinationLister interface {
	ListEnabledSIEMDestinations(ctx context.Context) ([]store.SIEMDestination, error)
}

// DestinationSource feeds the SIEM forwarder from the destinations table.
type DestinationSource struct {
	lister destinationLister
	vault  secretBox
	logger *zap.Logger
}

func NewDestinationSource(lister destinationLister, vault secretBox, logger *zap.Logger) *DestinationSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DestinationSource{lister: lister, vault: vault, logger: logger}
}

// EnabledDestinations skips rows whose secret cannot be decrypted so one
// broken destination does not stop delivery to the others.
func (d *DestinationSource) EnabledDestinations(ctx context.Context) ([]siem.Destination, error) {
	rows, err := d.lister.ListEnabledSIEMDestinations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]siem.Destination, 0, len(rows))
	for _, row := range rows {
		dest, err := decodeDestination(row, d.vault)
		if err != nil {
			d.logger.Warn("skip siem destination", zap.String("destination_id", row.ID), zap.Error(err))
			continue
		}
		out = append(out, dest)
	}
	return out, nil
}

func decodeDestination(row store.SIEMDestination, vault secretBox) (siem.Destination, error) {
	dest := siem.Destination{
		ID:       row.ID,
		TenantID: row.TenantID,
		Name:     row.Name,
		Kind:     row.Kind,
		Endpoint: row.Endpoint,
		Network:  row.Network,
		Facility: row.Facility,
		AppName:  row.AppName,
		Enabled:  row.Enabled,
	}
	if row.SecretCipher == "" {
		return dest, nil
	}
	if vault == nil {
		return dest, unavailable("VAULT_UNAVAILABLE", "Secret storage is not configured")
	}
	secret, err := vault.Decrypt(row.SecretCipher)
	if err != nil {
		return dest, fmt.Errorf("decrypt secret of %s: %w", row.ID, err)
	}
	dest.Secret = secret
	return dest, nil
}
