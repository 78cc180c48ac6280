package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/asergenalkan/vercelclone/internal/domain"
)

// defaultNodeVersion backs builds whose project carries no runtime pin.
const defaultNodeVersion = "20"

// EnsureDockerfile generates a Dockerfile matched to the project's framework
// when the repository does not ship its own. The install and build stages
// have already run on the host, so the generated file packages artifacts
// rather than rebuilding them. nodeVersion pins the runtime image for the
// node-based frameworks.
func EnsureDockerfile(dir string, project *domain.Project, standaloneNext bool, nodeVersion string) (bool, error) {
	if hasDockerfile(dir) {
		return false, nil
	}
	if nodeVersion == "" {
		nodeVersion = defaultNodeVersion
	}
	var content string
	switch project.Framework {
	case domain.FrameworkNext:
		content = renderNextDockerfile(standaloneNext, nodeVersion)
	case domain.FrameworkReact:
		content = renderStaticDockerfile(outputDir(project, "build"))
	case domain.FrameworkVue:
		content = renderStaticDockerfile(outputDir(project, "dist"))
	case domain.FrameworkStatic:
		content = renderStaticDockerfile(outputDir(project, "."))
	default:
		content = renderNodeDockerfile(nodeVersion)
	}
	path := filepath.Join(dir, "Dockerfile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write dockerfile: %w", err)
	}
	return true, nil
}

func outputDir(project *domain.Project, fallback string) string {
	if project.OutputDirectory != "" {
		return project.OutputDirectory
	}
	return fallback
}

func renderNextDockerfile(standalone bool, nodeVersion string) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString(fmt.Sprintf("FROM node:%s-alpine\n", nodeVersion))
	b.WriteString("WORKDIR /app\n\n")
	b.WriteString("COPY . ./\n")
	if standalone {
		b.WriteString("RUN cp -r .next/static .next/standalone/.next/static && \\\n")
		b.WriteString("    if [ -d public ]; then cp -r public .next/standalone/public; fi\n\n")
	}
	b.WriteString("ENV NODE_ENV=production\n")
	b.WriteString("ENV NEXT_TELEMETRY_DISABLED=1\n")
	b.WriteString("ENV PORT=3000\n")
	b.WriteString("ENV HOSTNAME=0.0.0.0\n")
	b.WriteString("EXPOSE 3000\n")
	if standalone {
		b.WriteString("CMD [\"node\", \".next/standalone/server.js\"]\n")
	} else {
		b.WriteString("CMD [\"npx\", \"next\", \"start\", \"-p\", \"3000\"]\n")
	}
	return b.String()
}

func renderStaticDockerfile(outDir string) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM nginx:alpine\n")
	b.WriteString(fmt.Sprintf("COPY %s/ /usr/share/nginx/html/\n", strings.TrimSuffix(outDir, "/")))
	b.WriteString("RUN sed -i 's/listen  *80;/listen 3000;/' /etc/nginx/conf.d/default.conf\n")
	b.WriteString("EXPOSE 3000\n")
	return b.String()
}

func renderNodeDockerfile(nodeVersion string) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString(fmt.Sprintf("FROM node:%s-alpine\n", nodeVersion))
	b.WriteString("WORKDIR /app\n\n")
	b.WriteString("COPY . ./\n")
	b.WriteString("ENV NODE_ENV=production\n")
	b.WriteString("ENV PORT=3000\n")
	b.WriteString("EXPOSE 3000\n")
	b.WriteString("CMD [\"npm\", \"start\"]\n")
	return b.String()
}

func hasDockerfile(dir string) bool {
	for _, name := range []string{"Dockerfile", "dockerfile"} {
		if fileExists(filepath.Join(dir, name)) {
			return true
		}
	}
	return false
}

// nextConfig is the structured model behind a generated Next.js config. The
// config is rendered whole from this struct; an existing config file is
// never rewritten.
type nextConfig struct {
	Output          string
	ReactStrictMode bool
}

func (c nextConfig) render() string {
	var b strings.Builder
	b.WriteString("/** @type {import('next').NextConfig} */\n")
	b.WriteString("const nextConfig = {\n")
	if c.Output != "" {
		b.WriteString(fmt.Sprintf("  output: %q,\n", c.Output))
	}
	b.WriteString(fmt.Sprintf("  reactStrictMode: %t,\n", c.ReactStrictMode))
	b.WriteString("};\n\n")
	b.WriteString("export default nextConfig;\n")
	return b.String()
}

// EnsureNextConfig writes a standalone-output config when the repository has
// none and reports whether it did. A repository that ships its own config
// keeps it untouched; the caller switches standalone output on through
// NEXT_PRIVATE_STANDALONE in the build environment instead.
func EnsureNextConfig(dir string) (generated bool, err error) {
	for _, name := range []string{"next.config.js", "next.config.mjs", "next.config.ts"} {
		if fileExists(filepath.Join(dir, name)) {
			return false, nil
		}
	}
	cfg := nextConfig{Output: "standalone", ReactStrictMode: true}
	path := filepath.Join(dir, "next.config.mjs")
	if err := os.WriteFile(path, []byte(cfg.render()), 0o644); err != nil {
		return false, fmt.Errorf("write next config: %w", err)
	}
	return true, nil
}
