package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/docforge/toolkit-client/internal/cli"
	"github.com/docforge/toolkit-client/internal/client"
	"github.com/docforge/toolkit-client/internal/stub"
	"github.com/spf13/cobra"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var _ = Describe("toolkit commands", func() {
	var (
		dir    string
		config string
		server *httptest.Server
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "toolkit-cli")
		Expect(err).To(BeNil())
		config = filepath.Join(dir, "client.yaml")
		server = httptest.NewServer(stub.New(stub.WithProcessor(stub.DefaultProcessor(5 * time.Millisecond))).Handler())
	})

	AfterEach(func() {
		server.Close()
		_ = os.RemoveAll(dir)
	})

	writePDF := func(name string) string {
		p := filepath.Join(dir, name)
		Expect(os.WriteFile(p, []byte("%PDF-1.7\n"+name+"\n%%EOF\n"), 0600)).To(Succeed())
		return p
	}

	Context("tools", func() {
		It("lists the builtin tools as a table", func() {
			out, err := execute(cli.NewCmdTools(), "--config", config)
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("merge"))
			Expect(out).To(ContainSubstring("ranges*"))
		})

		It("prints json", func() {
			out, err := execute(cli.NewCmdTools(), "--config", config, "-o", "json")
			Expect(err).To(BeNil())
			var tools []map[string]any
			Expect(json.Unmarshal([]byte(out), &tools)).To(Succeed())
			Expect(tools).To(HaveLen(6))
		})

		It("rejects unknown output formats", func() {
			_, err := execute(cli.NewCmdTools(), "--config", config, "-o", "xml")
			Expect(err).To(MatchError(ContainSubstring("output format")))
		})
	})

	Context("submit", func() {
		It("merges files and saves the result", func() {
			out, err := execute(cli.NewCmdSubmit(),
				"--config", config, "--server-url", server.URL, "-O", filepath.Join(dir, "out"),
				"merge", writePDF("a.pdf"), writePDF("b.pdf"))
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring("Saved merged.pdf"))
			_, err = os.Stat(filepath.Join(dir, "out", "merged.pdf"))
			Expect(err).To(BeNil())
		})

		It("refuses a split without ranges", func() {
			_, err := execute(cli.NewCmdSubmit(),
				"--config", config, "--server-url", server.URL,
				"split", writePDF("a.pdf"))
			Expect(err).To(MatchError(ContainSubstring(`missing parameter "ranges"`)))
		})

		It("rejects parameters the tool does not declare", func() {
			_, err := execute(cli.NewCmdSubmit(),
				"--config", config, "--server-url", server.URL,
				"merge", writePDF("a.pdf"), "-p", "level=high")
			Expect(err).To(MatchError(ContainSubstring("no parameter")))
		})

		It("skips files of the wrong type", func() {
			txt := filepath.Join(dir, "notes.txt")
			Expect(os.WriteFile(txt, []byte("plain text"), 0600)).To(Succeed())

			out, err := execute(cli.NewCmdSubmit(),
				"--config", config, "--server-url", server.URL,
				"compress", txt)
			Expect(err).To(MatchError(ContainSubstring("no accepted input file")))
			Expect(out).To(ContainSubstring("skipping notes.txt"))
		})
	})

	Context("config init", func() {
		It("writes the config file", func() {
			out, err := execute(cli.NewCmdConfigInit(), "--config", config, "--server-url", "http://backend:5000")
			Expect(err).To(BeNil())
			Expect(out).To(ContainSubstring(config))

			cfg, err := client.ParseConfigFile(config)
			Expect(err).To(BeNil())
			Expect(cfg.Service.Server).To(Equal("http://backend:5000"))
		})
	})

	Context("download", func() {
		It("fails for unknown files", func() {
			_, err := execute(cli.NewCmdDownload(), "--config", config, "--server-url", server.URL, "missing.pdf")
			Expect(err).NotTo(BeNil())
		})
	})

	It("prints the version", func() {
		out, err := execute(cli.NewCmdVersion())
		Expect(err).To(BeNil())
		Expect(out).To(ContainSubstring("Toolkit Version"))
	})
})
