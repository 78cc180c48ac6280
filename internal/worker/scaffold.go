package worker

import (
	"fmt"
	"os"
	"path/filepath"
)

const scaffoldIndexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>%s</title>
  <link rel="stylesheet" href="style.css" />
</head>
<body>
  <main>
    <h1>%s</h1>
    <p>This is a sample page deployed because the source repository could not be cloned.</p>
    <p>Push a new commit to replace it with your application.</p>
  </main>
</body>
</html>
`

const scaffoldStyleCSS = `body {
  margin: 0;
  font-family: system-ui, -apple-system, sans-serif;
  background: #0a0a0a;
  color: #ededed;
  display: flex;
  min-height: 100vh;
  align-items: center;
  justify-content: center;
}

main {
  text-align: center;
  padding: 2rem;
}

h1 {
  font-size: 2.5rem;
  margin-bottom: 0.5rem;
}

p {
  color: #a1a1a1;
}
`

// WriteScaffold fills dir with a self-contained static sample site. It is
// the fallback target when a repository cannot be cloned, so a first deploy
// with a bad URL still produces something visitable.
func WriteScaffold(dir, projectName string) error {
	if projectName == "" {
		projectName = "Sample Application"
	}
	files := map[string]string{
		"index.html": fmt.Sprintf(scaffoldIndexHTML, projectName, projectName),
		"style.css":  scaffoldStyleCSS,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write scaffold %s: %w", name, err)
		}
	}
	return nil
}
