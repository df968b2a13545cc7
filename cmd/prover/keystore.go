package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/kvinwang/gpt-prover/pkg/config"
	"github.com/kvinwang/gpt-prover/pkg/kms"
	"github.com/kvinwang/gpt-prover/pkg/store"
)

func runRotateKeystoreCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("rotate-keystore", stderr)
	cfg := config.Load()
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Instance data directory (env DATA_DIR)")
	reseal := fs.Bool("reseal", true, "Re-encrypt the stored state under the new key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := rotateKeystore(context.Background(), cfg, *reseal, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}

// rotateKeystore adds a key version to the instance keystore. Older versions
// stay readable, so a stopped instance can be rotated without resealing.
func rotateKeystore(ctx context.Context, cfg *config.Config, reseal bool, stdout io.Writer) error {
	secrets, err := kms.OpenLocalKMS(filepath.Join(cfg.DataDir, "keystore.json"))
	if err != nil {
		return err
	}
	from := secrets.ActiveVersion()
	to, err := secrets.Rotate()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "keystore: version %d -> %d\n", from, to)
	if !reseal {
		return nil
	}

	a := &app{}
	defer a.Close(ctx)
	st, _, err := a.openStore(ctx, cfg, secrets)
	if err != nil {
		return err
	}
	snap, err := st.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		_, _ = fmt.Fprintln(stdout, "store: nothing to reseal")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := st.Save(ctx, snap); err != nil {
		return fmt.Errorf("reseal state: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "store: resealed under version %d\n", to)
	return nil
}
