package mail

import (
	"bytes"
	_ "embed"
	"html/template"
)

// DeploymentFailedParams fills the failure notification.
type DeploymentFailedParams struct {
	TaskID     string
	ClusterID  string
	Namespace  string
	Release    string
	Repository string
	Chart      string
	Version    string
	Reason     string
	Message    string
	FailedAt   string
	Duration   string
}

var (
	deploymentFailedTemplate = template.New("deploymentFailed")

	//go:embed templates/deploymentFailed.html
	deploymentFailedTemplateRaw string
)

func init() {
	if _, err := deploymentFailedTemplate.Parse(deploymentFailedTemplateRaw); err != nil {
		panic(err)
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

func RenderDeploymentFailed(p DeploymentFailedParams) (string, error) {
	return render(deploymentFailedTemplate, p)
}
