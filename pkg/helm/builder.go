// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package helm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

// ShowKind selects the `helm show` subcommand.
type ShowKind string

const (
	ShowValues ShowKind = "values"
	ShowReadme ShowKind = "readme"
	ShowChart  ShowKind = "chart"
)

// Verbs reported by Invocation.Verb and used as metric labels.
const (
	VerbRepoAdd    = "repo-add"
	VerbRepoUpdate = "repo-update"
	VerbShow       = "show"
	VerbInstall    = "install"
	VerbStatus     = "status"
	VerbList       = "list"
)

// InsecureSkipTLSVerifyFlag is appended to every install. Target clusters are
// frequently self-signed development clusters; the flag is kept on purpose
// and must not be dropped without reviewing those environments.
const InsecureSkipTLSVerifyFlag = "--insecure-skip-tls-verify"

// CommandBuilder renders helm invocations. It never executes anything; the
// only side effect is writing uploaded values to a temporary file.
type CommandBuilder struct {
	binary     string
	repos      RegisteredRepositories
	repoConfig string
	tempDir    string
	log        *zap.SugaredLogger
}

// BuilderConfig configures a CommandBuilder.
type BuilderConfig struct {
	// Binary is the helm executable, default "helm".
	Binary string
	// RepositoryConfig, when set, is exported as HELM_REPOSITORY_CONFIG so helm
	// and the registration check read the same file.
	RepositoryConfig string
	// TempDir receives uploaded values files, default os.TempDir().
	TempDir string
}

func NewCommandBuilder(cfg BuilderConfig, repos RegisteredRepositories, log *zap.SugaredLogger) *CommandBuilder {
	if cfg.Binary == "" {
		cfg.Binary = "helm"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if repos == nil {
		repos = NewRepositoryFile(cfg.RepositoryConfig)
	}
	return &CommandBuilder{
		binary:     cfg.Binary,
		repos:      repos,
		repoConfig: cfg.RepositoryConfig,
		tempDir:    cfg.TempDir,
		log:        log.Named("helm"),
	}
}

func (b *CommandBuilder) invocation(verb string, args ...string) Invocation {
	return Invocation{Verb: verb, Args: append([]string{b.binary}, args...)}
}

func (b *CommandBuilder) baseEnv(kubeconfigPath string) []string {
	var env []string
	if kubeconfigPath != "" {
		env = append(env, "KUBECONFIG="+kubeconfigPath)
	}
	if b.repoConfig != "" {
		env = append(env, "HELM_REPOSITORY_CONFIG="+b.repoConfig)
	}
	return env
}

// RepoAdd returns the registration invocation for repo, or false when a
// repository with the same name is already registered.
func (b *CommandBuilder) RepoAdd(repo model.Repository) (Invocation, bool) {
	if b.repos.Registered(repo.Name) {
		b.log.Debugw("Repository already registered, skipping add", "repository", repo.Name)
		return Invocation{}, false
	}

	inv := b.invocation(VerbRepoAdd, "repo", "add", repo.Name, repo.URL)
	if strings.TrimSpace(repo.Username) != "" {
		inv.Args = append(inv.Args, "--username", repo.Username)
	}
	if strings.TrimSpace(repo.Password) != "" {
		inv.Args = append(inv.Args, "--password", repo.Password)
		inv.secret = map[int]bool{len(inv.Args) - 1: true}
	}
	if strings.TrimSpace(repo.CAFile) != "" {
		inv.Args = append(inv.Args, "--ca-file", repo.CAFile)
	}
	if repo.InsecureSkipTLSVerify {
		inv.Args = append(inv.Args, InsecureSkipTLSVerifyFlag)
	}
	return inv, true
}

func (b *CommandBuilder) ensureRepo(repo model.Repository) []Invocation {
	if inv, ok := b.RepoAdd(repo); ok {
		return []Invocation{inv}
	}
	return nil
}

// RepoProbe registers repo if needed and refreshes its index. It touches no cluster.
func (b *CommandBuilder) RepoProbe(repo model.Repository) Script {
	steps := append(b.ensureRepo(repo), b.invocation(VerbRepoUpdate, "repo", "update", repo.Name))
	return Script{Steps: steps, Env: b.baseEnv("")}
}

// Show renders `helm show <kind> repo/chart`.
func (b *CommandBuilder) Show(repo model.Repository, chart, version string, kind ShowKind) (Script, error) {
	switch kind {
	case ShowValues, ShowReadme, ShowChart:
	default:
		return Script{}, fmt.Errorf("unsupported show kind %q", kind)
	}
	show := b.invocation(VerbShow, "show", string(kind), repo.Name+"/"+chart)
	if version != "" {
		show.Args = append(show.Args, "--version", version)
	}
	return Script{Steps: append(b.ensureRepo(repo), show), Env: b.baseEnv(""), ExitCodeOnly: true}, nil
}

// Install renders repository registration followed by `helm install`.
// Uploaded values are written to a uniquely named temp file recorded in
// Script.TempFiles; the caller removes it with Script.Cleanup.
func (b *CommandBuilder) Install(req model.DeploymentRequest, repo model.Repository, kubeconfigPath string) (Script, error) {
	install := b.invocation(VerbInstall, "install", req.ReleaseName, repo.Name+"/"+req.Chart, "--kubeconfig", kubeconfigPath)
	if req.Namespace != "" {
		install.Args = append(install.Args, "--namespace", req.Namespace, "--create-namespace")
	}
	if req.Version != "" {
		install.Args = append(install.Args, "--version", req.Version)
	}

	script := Script{Env: b.baseEnv(kubeconfigPath)}
	if len(req.ValuesFile) > 0 {
		path, err := b.writeValuesFile(req.ValuesFile)
		if err != nil {
			return Script{}, err
		}
		script.TempFiles = append(script.TempFiles, path)
		install.Args = append(install.Args, "--values", path)
	}

	flags, err := FlattenValues(req.Values)
	if err != nil {
		_ = script.Cleanup()
		return Script{}, fmt.Errorf("flatten values: %w", err)
	}
	for _, f := range flags {
		install.Args = append(install.Args, f.Flag, f.Arg())
	}

	if req.Wait {
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = model.DefaultDeployTimeout
		}
		install.Args = append(install.Args, "--wait", "--timeout", strconv.Itoa(int(timeout/time.Second))+"s")
	}
	install.Args = append(install.Args, InsecureSkipTLSVerifyFlag)

	script.Steps = append(b.ensureRepo(repo), install)
	return script, nil
}

// Status renders `helm status`. An empty namespace means "default".
func (b *CommandBuilder) Status(release, namespace, kubeconfigPath string) Script {
	if namespace == "" {
		namespace = model.DefaultNamespace
	}
	inv := b.invocation(VerbStatus, "status", release, "--kubeconfig", kubeconfigPath, "--namespace", namespace)
	return Script{Steps: []Invocation{inv}, Env: b.baseEnv(kubeconfigPath)}
}

// List renders `helm list --output json`, scoped to namespace or to all
// namespaces when namespace is empty.
func (b *CommandBuilder) List(namespace, kubeconfigPath string) Script {
	inv := b.invocation(VerbList, "list", "--kubeconfig", kubeconfigPath)
	if namespace != "" {
		inv.Args = append(inv.Args, "--namespace", namespace)
	} else {
		inv.Args = append(inv.Args, "--all-namespaces")
	}
	inv.Args = append(inv.Args, "--output", "json")
	return Script{Steps: []Invocation{inv}, Env: b.baseEnv(kubeconfigPath)}
}

func (b *CommandBuilder) writeValuesFile(content []byte) (string, error) {
	f, err := os.CreateTemp(b.tempDir, fmt.Sprintf("values-%d-*.yaml", time.Now().UnixMilli()))
	if err != nil {
		return "", fmt.Errorf("create values file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write values file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close values file: %w", err)
	}
	b.log.Debugw("Wrote values file", "path", path, "bytes", len(content))
	return path, nil
}
