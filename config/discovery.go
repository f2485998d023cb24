package config

import (
	"path/filepath"

	"github.com/bobg/pit/peer"
)

// Discovery builds the configured peer discovery mechanisms for the repository at root.
// Relative rendezvous directories are resolved against root.
func (cfg Config) Discovery(root string) (peer.Discovery, error) {
	var result peer.Multi

	if len(cfg.Peer.Peers) > 0 {
		result = append(result, peer.Static(cfg.Peer.Peers))
	}
	if dir := cfg.Peer.Rendezvous; dir != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		result = append(result, &peer.Dir{Root: dir, TTL: cfg.Peer.RendezvousTTL})
	}
	if cfg.Peer.Redis != "" {
		r, err := peer.DialRedis(cfg.Peer.Redis, cfg.Peer.RendezvousTTL)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}

	if len(result) == 1 {
		return result[0], nil
	}
	return result, nil
}
