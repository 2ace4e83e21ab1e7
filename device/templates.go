package device

import (
	"bytes"
	"embed"
	"encoding/xml"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(
	template.New("device").Funcs(templateFuncs()).ParseFS(templateFS, "templates/*.tmpl"),
)

func templateFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	delete(funcs, "env")
	delete(funcs, "expandenv")
	funcs["xml"] = xmlEscape
	return funcs
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// InterfaceConfig is the input to the interface CLI template
type InterfaceConfig struct {
	Interface   string
	Description string
	Mode        string
	VLAN        string
}

// RenderInterfaceConfig renders the CLI lines that configure one access or
// trunk port
func RenderInterfaceConfig(cfg InterfaceConfig) ([]string, error) {
	out, err := render("configure_interface_cli.tmpl", cfg)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, " "))
		}
	}
	return lines, nil
}

func renderShutdown(ifaceType, ifaceName, operation string) (string, error) {
	return render("shutdown.xml.tmpl", map[string]string{
		"IfaceType": ifaceType,
		"IfaceName": ifaceName,
		"Operation": operation,
	})
}

func renderExec(command string) (string, error) {
	return render("exec_command.xml.tmpl", map[string]string{"Command": command})
}

func renderClearDHCP(address string) (string, error) {
	return render("clear_dhcp_binding.xml.tmpl", map[string]string{"Address": address})
}
