package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/feedsync"
	"bitbucket.org/cvomotor/vehicles_backend/models"
	"bitbucket.org/cvomotor/vehicles_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func dummySlots() []string {
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = "https://cdn.example/dummy.jpg"
	}
	return urls
}

func withRealPhoto() []string {
	return append(dummySlots(), "https://cdn.example/real.jpg")
}

func TestFeedLifecycleBackdatingAndIdempotence(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "cvomotor_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := logrus.New()
	plate := "1111AAA"

	// First sighting: listed, no real photos yet.
	batch := []feedsync.RawVehicleRow{{
		Plate:        plate,
		Model:        "Corsa",
		Brand:        "Opel",
		Availability: "Disponible",
		PhotoURLs:    dummySlots(),
	}}
	if r := feedsync.IngestBatch(ctx, db, logger, batch); r.Failed != 0 {
		t.Fatalf("first ingest failed: %+v", r)
	}

	var task models.PhotoTask
	if err := db.Where("plate = ?", plate).Take(&task).Error; err != nil {
		t.Fatalf("photo task not created: %v", err)
	}
	if task.PhotosCompleted {
		t.Fatal("dummy slots alone must not complete the photo task")
	}
	var entry models.StockEntry
	if err := db.Where("plate = ?", plate).Take(&entry).Error; err != nil {
		t.Fatalf("stock entry not created: %v", err)
	}
	if entry.PhysicalReceptionDate != nil {
		t.Fatal("reception must not be set before real photos or manual action")
	}
	var intake models.IntakeRecord
	if err := db.Where("plate = ?", plate).Take(&intake).Error; err != nil {
		t.Fatalf("intake record not created: %v", err)
	}

	// The per-plate advisory lock must not survive the reconciliation pass on
	// an idle pooled connection.
	var free int
	if err := db.Raw("SELECT IS_FREE_LOCK(?)", "plate:"+plate).Scan(&free).Error; err != nil {
		t.Fatalf("IS_FREE_LOCK: %v", err)
	}
	if free != 1 {
		t.Fatal("plate lock leaked after reconciliation")
	}

	// While one holder pins the lock, the rest of the pool must see it taken;
	// it must come free again the moment the holder returns.
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- workflow.WithPlateLock(ctx, db, plate, func(conn *gorm.DB) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	if err := db.Raw("SELECT IS_FREE_LOCK(?)", "plate:"+plate).Scan(&free).Error; err != nil {
		t.Fatalf("IS_FREE_LOCK: %v", err)
	}
	if free != 0 {
		t.Fatal("lock holder not visible to other connections")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("WithPlateLock: %v", err)
	}
	if err := db.Raw("SELECT IS_FREE_LOCK(?)", "plate:"+plate).Scan(&free).Error; err != nil {
		t.Fatalf("IS_FREE_LOCK: %v", err)
	}
	if free != 1 {
		t.Fatal("plate lock not released with its holder")
	}

	// Real photos appear later: completion must be dated to THIS observation,
	// and reception must propagate with the same backdated timestamp.
	time.Sleep(1100 * time.Millisecond)
	batch[0].PhotoURLs = withRealPhoto()
	if r := feedsync.IngestBatch(ctx, db, logger, batch); r.Failed != 0 {
		t.Fatalf("second ingest failed: %+v", r)
	}

	var anchor models.FeedFirstSeen
	if err := db.Where("plate = ?", plate).Take(&anchor).Error; err != nil {
		t.Fatalf("first-seen anchor missing: %v", err)
	}
	if anchor.FirstPhotosAt == nil {
		t.Fatal("first_photos_at not recorded")
	}
	if !anchor.FirstPhotosAt.After(anchor.FirstSeenAt) {
		t.Errorf("first_photos_at %v must be after first_seen_at %v", anchor.FirstPhotosAt, anchor.FirstSeenAt)
	}

	if err := db.Where("plate = ?", plate).Take(&task).Error; err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if !task.PhotosCompleted || !task.AutoCompleted || task.CompletedAt == nil {
		t.Fatalf("task not auto-completed: %+v", task)
	}
	if task.CompletedAt.Unix() != anchor.FirstPhotosAt.Unix() {
		t.Errorf("completed_at %v not backdated to first_photos_at %v", task.CompletedAt, anchor.FirstPhotosAt)
	}
	if err := db.Where("plate = ?", plate).Take(&entry).Error; err != nil {
		t.Fatalf("reload stock: %v", err)
	}
	if entry.PhysicalReceptionDate == nil || !entry.AutoMarkedReceived {
		t.Fatalf("reception not auto-propagated: %+v", entry)
	}
	if entry.PhysicalReceptionDate.Unix() != anchor.FirstPhotosAt.Unix() {
		t.Errorf("reception %v not backdated to %v", entry.PhysicalReceptionDate, anchor.FirstPhotosAt)
	}
	if err := db.Where("plate = ?", plate).Take(&intake).Error; err != nil {
		t.Fatalf("reload intake: %v", err)
	}
	if !intake.IsReceived {
		t.Fatal("intake not marked received")
	}

	// Idempotence: replaying the same batch must not emit new events.
	var eventsBefore int64
	if err := db.Model(&models.SyncEventRecord{}).Count(&eventsBefore).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if r := feedsync.IngestBatch(ctx, db, logger, batch); r.Failed != 0 {
		t.Fatalf("replay ingest failed: %+v", r)
	}
	var eventsAfter int64
	if err := db.Model(&models.SyncEventRecord{}).Count(&eventsAfter).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventsAfter != eventsBefore {
		t.Errorf("replay emitted %d new events, want 0", eventsAfter-eventsBefore)
	}

	// Photos withdrawn from the feed: the auto-completion and everything it
	// propagated must roll back. Availability still follows the feed.
	batch[0].PhotoURLs = dummySlots()
	if r := feedsync.IngestBatch(ctx, db, logger, batch); r.Failed != 0 {
		t.Fatalf("revert ingest failed: %+v", r)
	}
	if err := db.Where("plate = ?", plate).Take(&task).Error; err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if task.PhotosCompleted || task.CompletedAt != nil {
		t.Fatalf("auto-completion not reverted: %+v", task)
	}
	if err := db.Where("plate = ?", plate).Take(&entry).Error; err != nil {
		t.Fatalf("reload stock: %v", err)
	}
	if entry.PhysicalReceptionDate != nil || entry.AutoMarkedReceived {
		t.Fatalf("auto reception not reverted: %+v", entry)
	}
	if !entry.IsAvailable {
		t.Error("feed says available; mirror must win after the revert")
	}

	// Human confirmation is sticky: automation must never flip it back.
	manualAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	if err := workflow.CompletePhotoTaskManually(ctx, db, logger, plate, manualAt); err != nil {
		t.Fatalf("manual completion: %v", err)
	}
	if r := feedsync.IngestBatch(ctx, db, logger, batch); r.Failed != 0 {
		t.Fatalf("post-manual ingest failed: %+v", r)
	}
	if err := db.Where("plate = ?", plate).Take(&task).Error; err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if !task.PhotosCompleted || task.AutoCompleted {
		t.Fatalf("manual completion was not sticky: %+v", task)
	}
	if err := db.Where("plate = ?", plate).Take(&entry).Error; err != nil {
		t.Fatalf("reload stock: %v", err)
	}
	if entry.PhysicalReceptionDate == nil || entry.AutoMarkedReceived {
		t.Fatalf("manual completion must re-establish reception as manual: %+v", entry)
	}
	if entry.PhysicalReceptionDate.Unix() != manualAt.Unix() {
		t.Errorf("reception %v not dated to the manual completion %v", entry.PhysicalReceptionDate, manualAt)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("vehicles-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("vehicles-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=cvomotor_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
