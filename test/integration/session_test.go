//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/client"
	"github.com/lbmctl/lbmctl/internal/daemon"
	"github.com/lbmctl/lbmctl/internal/dispatch"
	"github.com/lbmctl/lbmctl/internal/domain"
	"github.com/lbmctl/lbmctl/internal/infra"
	"github.com/lbmctl/lbmctl/internal/layout"
	"github.com/lbmctl/lbmctl/internal/usecase"
)

var monitors = []domain.MonitorSpec{
	{DeviceID: "DISPLAY1", WidthMM: 531, HeightMM: 299, Pixels: domain.Rect{Right: 2560, Bottom: 1440}, Primary: true, Attached: true, DpiRatio: 1},
	{DeviceID: "DISPLAY2", WidthMM: 344, HeightMM: 194, XMM: 531, Pixels: domain.Rect{Left: 2560, Right: 4480, Bottom: 1080}, Attached: true, DpiRatio: 1},
}

// daemonProcess runs a daemon server in-process.
type daemonProcess struct {
	srv    *daemon.Server
	cancel context.CancelFunc
	done   chan struct{}
}

func startDaemon(socket string) *daemonProcess {
	pm := infra.NewProcessManager()
	srv := daemon.NewServer(daemon.DefaultServerConfig(socket),
		infra.NewFileRegistry(filepath.Dir(socket), pm), pm, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	d := &daemonProcess{srv: srv, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(d.done)
		_ = srv.Run(ctx)
	}()
	Eventually(srv.Ready()).WithTimeout(5 * time.Second).Should(BeClosed())
	return d
}

func (d *daemonProcess) shutdown() {
	d.cancel()
	Eventually(d.done).WithTimeout(5 * time.Second).Should(BeClosed())
}

var _ = Describe("Session controller", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		tmpDir  string
		socket  string
		d       *daemonProcess
		store   *infra.SQLLayoutStore
		l       *layout.Layout
		c       *client.Client
		loop    *dispatch.Loop
		session *usecase.SessionController
	)

	running := func() bool { return session.Snapshot().Running }

	BeforeEach(func() {
		var err error
		ctx, cancel = context.WithCancel(context.Background())

		// Keep the socket path short; unix socket paths are length limited.
		tmpDir, err = os.MkdirTemp("", "lbi")
		Expect(err).NotTo(HaveOccurred())
		socket = filepath.Join(tmpDir, "d.sock")

		d = startDaemon(socket)

		store, err = infra.OpenLayoutStore(ctx, tmpDir)
		Expect(err).NotTo(HaveOccurred())
		l, err = layout.Open(monitors, store, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		cfg := client.DefaultConfig(socket)
		cfg.DialTimeout = 2 * time.Second
		cfg.RequestTimeout = 2 * time.Second
		c = client.New(cfg, nil, nil, zap.NewNop())
		Expect(c.Connect(ctx)).To(Succeed())

		loop = dispatch.Start(ctx)
		live := domain.LayoutProviderFunc(func() domain.LayoutModel { return l })
		session = usecase.NewSessionController(c, live, loop, usecase.SessionConfig{}, zap.NewNop())
		Expect(session.Open(ctx)).To(Succeed())
		Expect(session.Attach(ctx, l)).To(Succeed())
	})

	AfterEach(func() {
		session.Close()
		cancel()
		<-loop.Done()
		_ = c.Close()
		d.shutdown()
		_ = store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("Start", func() {
		Context("when the layout was never saved", func() {
			It("should persist the layout before the daemon runs it", func() {
				Expect(session.Snapshot().Saved).To(BeFalse())
				Expect(session.Snapshot().Gates.Start).To(BeTrue())

				Expect(session.Start(ctx)).To(Succeed())

				rec, err := store.LoadLayout(ctx, l.ID())
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.Enabled).To(BeTrue())
				Expect(rec.Monitors).To(HaveLen(2))

				Expect(d.srv.State()).To(Equal(domain.StateRunning))
				Expect(d.srv.Zones().LayoutID).To(Equal(l.ID()))
				Expect(d.srv.Zones().Zones).To(HaveLen(2))

				Eventually(running).Should(BeTrue())
				Expect(session.Snapshot().Saved).To(BeTrue())
				Expect(session.Snapshot().Gates.Start).To(BeFalse())
				Expect(session.Snapshot().Gates.Stop).To(BeTrue())
			})
		})

		Context("when a monitor is detached", func() {
			It("should only send attached monitors", func() {
				Expect(l.SetAttached("DISPLAY2", false)).To(BeTrue())
				Expect(session.Start(ctx)).To(Succeed())

				Expect(d.srv.Zones().Zones).To(HaveLen(1))
				Expect(d.srv.Zones().Zones[0].DeviceID).To(Equal("DISPLAY1"))
			})
		})
	})

	Describe("Stop", func() {
		It("should disable the layout and stop the daemon", func() {
			Expect(session.Start(ctx)).To(Succeed())
			Eventually(running).Should(BeTrue())

			Expect(session.Stop(ctx)).To(Succeed())
			Eventually(running).Should(BeFalse())

			Expect(d.srv.State()).To(Equal(domain.StateStopped))
			rec, err := store.LoadLayout(ctx, l.ID())
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Enabled).To(BeFalse())
			Expect(session.Snapshot().Dead).To(BeFalse())
		})
	})

	Describe("Save and Undo", func() {
		It("should restore the saved options on undo", func() {
			l.SetAlgorithm("Cross")
			Eventually(func() bool { return session.Snapshot().Saved }).Should(BeFalse())
			Expect(session.Save(ctx)).To(Succeed())
			Eventually(func() bool { return session.Snapshot().Saved }).Should(BeTrue())

			l.SetAlgorithm("Strait")
			Eventually(func() bool { return session.Snapshot().Gates.Undo }).Should(BeTrue())
			Expect(session.Undo(ctx)).To(Succeed())

			Expect(l.Algorithm()).To(Equal("Cross"))
			Eventually(func() bool { return session.Snapshot().Saved }).Should(BeTrue())
		})

		It("should keep saved options across store reopen", func() {
			l.SetPriority("Above")
			Eventually(func() bool { return session.Snapshot().Gates.Save }).Should(BeTrue())
			Expect(session.Save(ctx)).To(Succeed())
			Expect(store.Close()).To(Succeed())

			var err error
			store, err = infra.OpenLayoutStore(ctx, tmpDir)
			Expect(err).NotTo(HaveOccurred())
			reopened, err := layout.Open(monitors, store, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())

			Expect(reopened.Saved()).To(BeTrue())
			Expect(reopened.Priority()).To(Equal("Above"))
		})
	})

	Describe("Daemon shutdown", func() {
		It("should report a graceful exit as stopped, not dead", func() {
			Expect(session.Start(ctx)).To(Succeed())
			Eventually(running).Should(BeTrue())

			d.shutdown()

			Eventually(running).WithTimeout(5 * time.Second).Should(BeFalse())
			Expect(session.Snapshot().Dead).To(BeFalse())
			Expect(session.Snapshot().Gates.Start).To(BeTrue())

			// Restart for AfterEach.
			d = startDaemon(socket)
		})
	})
})
