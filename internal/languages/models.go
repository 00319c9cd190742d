package languages

type RuntimeConfig struct {
	// Image is used by the container sandbox driver.
	Image string
	// SourceFile is the name the assembled unit is written under.
	SourceFile string
	// RunCommand is executed from the scratch directory. The first element is
	// the interpreter and may be overridden per host.
	RunCommand []string
	// DefinitionKeyword introduces a function definition in submitted source.
	DefinitionKeyword string
}

type Language struct {
	ID     string
	Name   string
	Config RuntimeConfig
}

// WithInterpreter returns a copy of l whose run command starts with path.
func (l Language) WithInterpreter(path string) Language {
	if path == "" || len(l.Config.RunCommand) == 0 {
		return l
	}
	cmd := make([]string, len(l.Config.RunCommand))
	copy(cmd, l.Config.RunCommand)
	cmd[0] = path
	l.Config.RunCommand = cmd
	return l
}
