package schema

import "strings"

const htmlIndex = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Hello HTML</title>
<link rel="stylesheet" href="styles.css">
</head>
<body>
<h1>Hello HTML</h1>
<script src="script.js"></script>
</body>
</html>`

const reactIndex = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<title>React App</title>
<div id="root"></div>
<script src="https://unpkg.com/react@18/umd/react.development.js"></script>
<script src="https://unpkg.com/react-dom@18/umd/react-dom.development.js"></script>
<script src="app.js"></script>
</head>
<body>
</body>
</html>`

const javaMain = `public class Main {
    public static void main(String[] args){
        System.out.println("Hello Java");
    }
}`

// StarterFiles returns the files a room is seeded with the first time anyone joins it. Language matching is
// case-insensitive; unknown languages get a single empty file.txt. The returned slice is freshly allocated.
func StarterFiles(language string) []FileEntry {
	switch strings.ToLower(language) {
	case "ruby":
		return []FileEntry{{Filename: "main.rb", Content: "puts 'Hello, Ruby!'"}}
	case "msql", "mysql", "sql":
		return []FileEntry{{Filename: "query.sql", Content: "SELECT 'Hello from SQL!' AS message;"}}
	case "html":
		return []FileEntry{
			{Filename: "index.html", Content: htmlIndex},
			{Filename: "styles.css", Content: "body { font-family: Arial; }"},
			{Filename: "script.js", Content: "console.log('Hello from HTML JS');"},
		}
	case "css":
		return []FileEntry{{Filename: "styles.css", Content: "body { background:white; }"}}
	case "javascript":
		return []FileEntry{{Filename: "index.js", Content: "console.log('Hello JS');"}}
	case "python":
		return []FileEntry{{Filename: "main.py", Content: "print('Hello Python')"}}
	case "java":
		return []FileEntry{{Filename: "Main.java", Content: javaMain}}
	case "cpp":
		return []FileEntry{{Filename: "Main.cpp", Content: "#include <iostream>\nint main(){ std::cout << \"Hello C++\"; }"}}
	case "c":
		return []FileEntry{{Filename: "main.c", Content: "#include <stdio.h>\nint main(){ printf(\"Hello C\"); }"}}
	case "react":
		return []FileEntry{
			{Filename: "index.html", Content: reactIndex},
			{Filename: "app.js", Content: "const root = ReactDOM.createRoot(document.getElementById('root'));\nroot.render(React.createElement('h1', null, 'Hello from React!'));\n"},
			{Filename: "styles.css", Content: "body { background:#f8f9fa; font-family:Arial; }"},
		}
	}
	return []FileEntry{{Filename: "file.txt", Content: ""}}
}

// IsPreviewLanguage reports whether sessions in this language render an HTML preview instead of executing.
func IsPreviewLanguage(language string) bool {
	switch strings.ToLower(language) {
	case "html", "react":
		return true
	}
	return false
}
