package client_test

import (
	"os"
	"path/filepath"

	"github.com/docforge/toolkit-client/internal/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("client config", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "toolkit-config")
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("round trips through the config file", func() {
		filename := filepath.Join(dir, "nested", "client.yaml")
		Expect(client.WriteConfig(filename, "http://localhost:5000", "http://push.local:5001")).To(Succeed())

		cfg, err := client.ParseConfigFile(filename)
		Expect(err).To(BeNil())
		Expect(cfg.Service.Server).To(Equal("http://localhost:5000"))
		Expect(cfg.PushURL()).To(Equal("http://push.local:5001"))
	})

	It("falls back to the server for the push channel", func() {
		cfg := client.NewDefault()
		cfg.Service.Server = "http://localhost:5000"
		Expect(cfg.PushURL()).To(Equal("http://localhost:5000"))
	})

	It("aggregates validation errors", func() {
		cfg := client.NewDefault()
		cfg.Service.PushServer = "not a url"
		err := cfg.Validate()
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("no server found"))
		Expect(err.Error()).To(ContainSubstring("push server"))
	})

	It("refuses to write an invalid config", func() {
		filename := filepath.Join(dir, "client.yaml")
		Expect(client.WriteConfig(filename, "", "")).NotTo(Succeed())
		_, err := os.Stat(filename)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("compares configs by service", func() {
		a := client.NewDefault()
		a.Service.Server = "http://a"
		b := a.DeepCopy()
		Expect(a.Equal(b)).To(BeTrue())
		b.Service.PushServer = "http://b"
		Expect(a.Equal(b)).To(BeFalse())
	})
})
