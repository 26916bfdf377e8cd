//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/nellai-market/api/internal/platform/config"
	pfirestore "github.com/nellai-market/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type productDoc struct {
	Name  string `firestore:"name"`
	Price int64  `firestore:"price"`
	Stock int    `firestore:"stock"`
}

func TestProviderAndRepositoryAgainstEmulator(t *testing.T) {
	endpoint, stop := startEmulator(t)
	defer stop()

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "nellai-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("expected firestore client, got error: %v", err)
	}
	if client == nil {
		t.Fatal("provider returned nil client")
	}

	repo := pfirestore.NewBaseRepository[productDoc](provider, "products")

	rice := productDoc{Name: "Ponni Rice 5kg", Price: 42500, Stock: 12}
	if _, err := repo.Set(ctx, "prod-rice", rice); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	doc, err := repo.Get(ctx, "prod-rice")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "prod-rice" {
		t.Fatalf("expected id prod-rice, got %s", doc.ID)
	}
	if doc.Data.Name != rice.Name || doc.Data.Price != rice.Price {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatal("expected update time to be set")
	}

	if _, err := repo.Set(ctx, "prod-dal", productDoc{Name: "Toor Dal 1kg", Price: 18900, Stock: 30}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("price", ">", int64(20000))
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "prod-rice" {
		t.Fatalf("expected only the rice product, got %d docs", len(docs))
	}

	if _, err := repo.Get(ctx, "prod-missing"); err == nil {
		t.Fatal("expected not found error")
	} else {
		type classifier interface{ IsNotFound() bool }
		var cls classifier
		if !errors.As(err, &cls) || !cls.IsNotFound() {
			t.Fatalf("expected a not-found repository error, got %v", err)
		}
	}

	// Decrement stock transactionally, the way order placement reserves items.
	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "prod-rice")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var p productDoc
		if err := snap.DataTo(&p); err != nil {
			return err
		}
		p.Stock--
		return tx.Set(ref, p)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err = repo.Get(ctx, "prod-rice")
	if err != nil {
		t.Fatalf("get after transaction failed: %v", err)
	}
	if doc.Data.Stock != 11 {
		t.Fatalf("expected stock 11 after transaction, got %d", doc.Data.Stock)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// startEmulator launches the Firestore emulator in docker and returns its
// endpoint plus a stop function. The test is skipped when docker is absent.
func startEmulator(t *testing.T) (string, func()) {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	infoCtx, cancelInfo := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelInfo()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	containerID := strings.TrimSpace(string(out))
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(ctx, "docker", "stop", containerID).Run()
	}

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return endpoint, stop
		}
		time.Sleep(250 * time.Millisecond)
	}

	stop()
	t.Fatal("emulator did not become ready")
	return "", nil
}
