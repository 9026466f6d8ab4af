// Command containertool builds an OCI container image from a locally
// built executable (plus optional resource files) by layering it onto a
// base image, and publishes the result to a Distribution-Spec registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-containertool/containertool/internal/diagnostics"
	"github.com/go-containertool/containertool/pkg/elfinfo"
	"github.com/go-containertool/containertool/pkg/imageref"
	"github.com/go-containertool/containertool/pkg/imagesource"
	"github.com/go-containertool/containertool/pkg/publish"
	"github.com/go-containertool/containertool/pkg/regauth"
	"github.com/go-containertool/containertool/pkg/registry"
	"github.com/go-containertool/containertool/pkg/transport"
)

const defaultBaseImage = "swift:slim"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "tags" {
		runTags(os.Args[2:])
		return
	}
	runPublish(os.Args[1:])
}

// resourceSliceFlag implements flag.Value for repeatable --resources flags.
type resourceSliceFlag []string

func (r *resourceSliceFlag) String() string {
	if r == nil {
		return ""
	}
	return strings.Join(*r, ",")
}

func (r *resourceSliceFlag) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func runPublish(args []string) {
	ctx := context.Background()

	var (
		repository        string
		from              string
		architecture      string
		osName            string
		tag               string
		resources         resourceSliceFlag
		username          string
		password          string
		enableNetrc       bool
		disableNetrc      bool
		netrcFile         string
		allowInsecureHTTP string
		verbose           bool
		jobs              int
	)

	fs := flag.NewFlagSet("containertool", flag.ExitOnError)
	fs.StringVar(&repository, "repository", envOr("CONTAINERTOOL_REPOSITORY", ""), "Destination repository (required)")
	fs.StringVar(&from, "from", envOr("CONTAINERTOOL_BASE_IMAGE", defaultBaseImage), "Base image; scratch for an empty base")
	fs.StringVar(&architecture, "architecture", envOr("CONTAINERTOOL_ARCHITECTURE", ""), "Override ELF-derived architecture")
	fs.StringVar(&osName, "os", envOr("CONTAINERTOOL_OS", "linux"), "Target operating system")
	fs.StringVar(&tag, "tag", "", "Optional user-visible tag for the result")
	fs.Var(&resources, "resources", "Extra resource to add as a layer, path[:dest] (repeatable)")
	fs.StringVar(&username, "username", "", "Default registry username")
	fs.StringVar(&password, "password", "", "Default registry password")
	fs.BoolVar(&enableNetrc, "enable-netrc", false, "Enable .netrc credential lookup")
	fs.BoolVar(&disableNetrc, "disable-netrc", false, "Disable .netrc credential lookup")
	fs.StringVar(&netrcFile, "netrc-file", "", "Override .netrc location")
	fs.StringVar(&allowInsecureHTTP, "allow-insecure-http", "", "Permit plaintext HTTP: source, destination, or both")
	fs.BoolVar(&verbose, "verbose", false, "Emit per-blob diagnostics")
	fs.BoolVar(&verbose, "v", false, "Emit per-blob diagnostics (shorthand)")
	fs.IntVar(&jobs, "jobs", 1, "Parallel gzip workers per layer (1 keeps layer digests reproducible)")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "containertool: %v\n", err)
		os.Exit(1)
	}

	positional := fs.Args()
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "containertool: expected exactly one positional argument: the executable path")
		os.Exit(1)
	}
	executable := positional[0]

	if repository == "" {
		fmt.Fprintln(os.Stderr, "containertool: --repository is required")
		os.Exit(1)
	}

	defaultRegistry := envOr("CONTAINERTOOL_DEFAULT_REGISTRY", "")

	insecureSource, insecureDest := parseInsecureFlag(allowInsecureHTTP)

	if architecture == "" {
		elf, err := elfinfo.ReadELF(executable)
		if err != nil {
			fmt.Fprintf(os.Stderr, "containertool: reading ELF header of %q: %v\n", executable, err)
			os.Exit(1)
		}
		arch, ok := elfinfo.ContainerArchitecture(elf.Machine)
		if !ok {
			fmt.Fprintf(os.Stderr, "containertool: cannot auto-detect architecture for ELF machine %s; pass --architecture\n", elf.Machine)
			os.Exit(1)
		}
		architecture = arch
	}

	destRef, err := imageref.Parse(repository, defaultRegistry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "containertool: parsing --repository: %v\n", err)
		os.Exit(1)
	}
	baseRef, err := imageref.Parse(from, defaultRegistry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "containertool: parsing --from: %v\n", err)
		os.Exit(1)
	}

	var provider regauth.CredentialProvider
	if enableNetrc && !disableNetrc {
		file := netrcFile
		if file == "" {
			file = filepath.Join(os.Getenv("HOME"), ".netrc")
		}
		p, err := regauth.LoadNetrc(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "containertool: loading netrc %q: %v\n", file, err)
			os.Exit(1)
		}
		provider = p
	}

	var logger registry.BlobLogger = diagnostics.NewDiscard()
	if verbose {
		logger = diagnostics.New()
	}

	tr := transport.New(&http.Client{})

	var resourceList []publish.Resource
	for _, r := range resources {
		resourceList = append(resourceList, publish.ParseResourceSpec(r))
	}

	req := publish.Request{
		Base:            baseRef,
		BaseRepo:        string(baseRef.Repository),
		Destination:     destRef,
		DestRepo:        string(destRef.Repository),
		Architecture:    architecture,
		OS:              osName,
		Executable:      executable,
		Cmd:             []string{},
		Resources:       resourceList,
		Tag:             tag,
		CompressionJobs: jobs,
	}

	destClient, err := registry.New(ctx, tr, destRef.Registry, insecureDest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "containertool: connecting to destination registry: %v\n", err)
		os.Exit(1)
	}
	destClient.SetCredentials(username, password, provider)
	destClient.Logger = logger
	req.Sink = imagesource.NewRemoteRegistry(destClient)
	req.DestClient = destClient

	if baseRef.IsScratch() {
		req.Source = imagesource.NewScratchSource(architecture, osName)
	} else {
		baseClient, err := registry.New(ctx, tr, baseRef.Registry, insecureSource)
		if err != nil {
			fmt.Fprintf(os.Stderr, "containertool: connecting to base registry: %v\n", err)
			os.Exit(1)
		}
		baseClient.SetCredentials(username, password, provider)
		baseClient.Logger = logger
		req.Source = imagesource.NewRemoteRegistry(baseClient)
		req.BaseClient = baseClient
	}

	result, err := publish.Publish(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "containertool: %v\n", err)
		os.Exit(1)
	}

	ref := fmt.Sprintf("%s/%s@%s", destRef.Registry, destRef.Repository, result.IndexDigest.String())
	if tag != "" {
		ref = fmt.Sprintf("%s/%s:%s", destRef.Registry, destRef.Repository, tag)
	}
	fmt.Println(ref)
}

func runTags(args []string) {
	fs := flag.NewFlagSet("containertool tags", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "containertool: %v\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: containertool tags <repository-ref>")
		os.Exit(1)
	}

	ref, err := imageref.Parse(fs.Arg(0), envOr("CONTAINERTOOL_DEFAULT_REGISTRY", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "containertool: parsing repository reference: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	tr := transport.New(&http.Client{})
	client, err := registry.New(ctx, tr, ref.Registry, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "containertool: connecting to registry: %v\n", err)
		os.Exit(1)
	}

	tags, err := client.ListTags(ctx, string(ref.Repository))
	if err != nil {
		fmt.Fprintf(os.Stderr, "containertool: listing tags: %v\n", err)
		os.Exit(1)
	}
	for _, t := range tags {
		fmt.Println(t)
	}
}

func parseInsecureFlag(value string) (source, destination bool) {
	switch value {
	case "source":
		return true, false
	case "destination":
		return false, true
	case "both":
		return true, true
	default:
		return false, false
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
